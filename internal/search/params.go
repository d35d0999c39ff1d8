package search

// ParamType classifies a search parameter and selects its index table and
// matcher.
type ParamType string

const (
	ParamString    ParamType = "string"
	ParamNumber    ParamType = "number"
	ParamDate      ParamType = "date"
	ParamQuantity  ParamType = "quantity"
	ParamToken     ParamType = "token"
	ParamReference ParamType = "reference"
)

// ParamDef declares one searchable parameter of a resource type. Path is a
// gjson expression into the canonical body; array results are flattened by
// the indexer.
type ParamDef struct {
	Name string
	Type ParamType
	Path string
}

// Registry maps resource types to their searchable parameter definitions.
// It is populated at store construction and read-only afterwards.
type Registry struct {
	defs map[string]map[string]ParamDef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]map[string]ParamDef)}
}

// Register adds parameter definitions for a resource type. Later definitions
// with the same name replace earlier ones.
func (r *Registry) Register(resourceType string, defs ...ParamDef) {
	m, ok := r.defs[resourceType]
	if !ok {
		m = make(map[string]ParamDef, len(defs))
		r.defs[resourceType] = m
	}
	for _, d := range defs {
		m[d.Name] = d
	}
}

// Lookup returns the definition of a parameter on a resource type.
func (r *Registry) Lookup(resourceType, name string) (ParamDef, bool) {
	d, ok := r.defs[resourceType][name]
	return d, ok
}

// Defs returns all parameter definitions for a resource type.
func (r *Registry) Defs(resourceType string) []ParamDef {
	m := r.defs[resourceType]
	out := make([]ParamDef, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}
