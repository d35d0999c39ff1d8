package search

// DefaultRegistry returns a registry pre-populated with the parameter
// definitions for the core clinical resource types. Callers can extend it
// with Register before handing it to the store.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("Patient",
		ParamDef{Name: "name", Type: ParamString, Path: "name.#.family"},
		ParamDef{Name: "given", Type: ParamString, Path: "name.#.given"},
		ParamDef{Name: "birthdate", Type: ParamDate, Path: "birthDate"},
		ParamDef{Name: "gender", Type: ParamToken, Path: "gender"},
		ParamDef{Name: "identifier", Type: ParamToken, Path: "identifier"},
		ParamDef{Name: "general-practitioner", Type: ParamReference, Path: "generalPractitioner.#.reference"},
		ParamDef{Name: "active", Type: ParamToken, Path: "active"},
	)

	r.Register("Practitioner",
		ParamDef{Name: "name", Type: ParamString, Path: "name.#.family"},
		ParamDef{Name: "given", Type: ParamString, Path: "name.#.given"},
		ParamDef{Name: "identifier", Type: ParamToken, Path: "identifier"},
	)

	r.Register("Observation",
		ParamDef{Name: "code", Type: ParamToken, Path: "code"},
		ParamDef{Name: "status", Type: ParamToken, Path: "status"},
		ParamDef{Name: "date", Type: ParamDate, Path: "effectiveDateTime"},
		ParamDef{Name: "value-quantity", Type: ParamQuantity, Path: "valueQuantity"},
		ParamDef{Name: "value-number", Type: ParamNumber, Path: "valueQuantity.value"},
		ParamDef{Name: "subject", Type: ParamReference, Path: "subject.reference"},
		ParamDef{Name: "performer", Type: ParamReference, Path: "performer.#.reference"},
	)

	r.Register("Condition",
		ParamDef{Name: "code", Type: ParamToken, Path: "code"},
		ParamDef{Name: "clinical-status", Type: ParamToken, Path: "clinicalStatus"},
		ParamDef{Name: "onset-date", Type: ParamDate, Path: "onsetDateTime"},
		ParamDef{Name: "recorded-date", Type: ParamDate, Path: "recordedDate"},
		ParamDef{Name: "subject", Type: ParamReference, Path: "subject.reference"},
	)

	r.Register("MedicationRequest",
		ParamDef{Name: "status", Type: ParamToken, Path: "status"},
		ParamDef{Name: "medication", Type: ParamToken, Path: "medicationCodeableConcept"},
		ParamDef{Name: "authored-on", Type: ParamDate, Path: "authoredOn"},
		ParamDef{Name: "subject", Type: ParamReference, Path: "subject.reference"},
	)

	r.Register("Encounter",
		ParamDef{Name: "status", Type: ParamToken, Path: "status"},
		ParamDef{Name: "date", Type: ParamDate, Path: "period.start"},
		ParamDef{Name: "subject", Type: ParamReference, Path: "subject.reference"},
	)

	return r
}
