package model

import (
	"encoding/json"
	"time"
)

// HTTPVerb is the wire verb attached to a bundle entry request.
type HTTPVerb string

const (
	VerbGET    HTTPVerb = "GET"
	VerbPOST   HTTPVerb = "POST"
	VerbPUT    HTTPVerb = "PUT"
	VerbPATCH  HTTPVerb = "PATCH"
	VerbDELETE HTTPVerb = "DELETE"
)

// Bundle resource type discriminators read once from a response envelope.
const (
	TypeBundle           = "Bundle"
	TypeOperationOutcome = "OperationOutcome"
)

// Bundle kind values.
const (
	BundleTypeTransaction         = "transaction"
	BundleTypeTransactionResponse = "transaction-response"
)

// Bundle is an atomic batch of operations submitted to (or returned by) the
// server in one transaction. The encoding must match the server's
// transactional-bundle contract bit-for-bit.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry is one operation within a bundle. Request is set on outgoing
// transaction entries, Response on entries of a transaction-response.
type BundleEntry struct {
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  *EntryRequest   `json:"request,omitempty"`
	Response *EntryResponse  `json:"response,omitempty"`
}

// EntryRequest carries the verb and target path of an outgoing entry.
type EntryRequest struct {
	Method HTTPVerb `json:"method"`
	URL    string   `json:"url"`
}

// EntryResponse carries the server's per-entry result within a
// transaction-response bundle.
type EntryResponse struct {
	Status       string     `json:"status"`
	Location     string     `json:"location,omitempty"`
	Etag         string     `json:"etag,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// OperationOutcome is the server's structured error payload.
type OperationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Issue        []OutcomeIssue `json:"issue"`
}

// OutcomeIssue is a single issue within an OperationOutcome.
type OutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}
