// Package model defines the core data types shared across the sync engine:
// resources, local changes, change tokens, and the transaction bundle wire
// format.
package model

import (
	"encoding/json"
	"time"
)

// ChangeType identifies the kind of local mutation a LocalChange records.
type ChangeType string

const (
	ChangeTypeInsert ChangeType = "INSERT"
	ChangeTypeUpdate ChangeType = "UPDATE"
	ChangeTypeDelete ChangeType = "DELETE"
)

// Resource is a uniquely identified, typed clinical entity held in the
// record store. VersionID and LastUpdatedRemote are set only once a remote
// round-trip confirms them.
type Resource struct {
	ResourceType      string          `json:"resourceType"`
	ResourceID        string          `json:"resourceId"`
	Body              json.RawMessage `json:"body"`
	VersionID         string          `json:"versionId,omitempty"`
	LastUpdatedRemote *time.Time      `json:"lastUpdatedRemote,omitempty"`
}

// LocalChange is an immutable ledger entry describing one local mutation.
// ID is assigned by the ledger, strictly increasing, and doubles as the
// ordering key and token component. Payload holds the full body for INSERT,
// the structured patch for UPDATE, and is empty for DELETE.
type LocalChange struct {
	ID           int64           `json:"id"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId"`
	Type         ChangeType      `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	VersionID    string          `json:"versionId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ChangeToken is an opaque handle wrapping the ledger ids a squashed change
// represents. After a successful upload it identifies exactly which ledger
// entries to delete, and only those.
type ChangeToken struct {
	ids []int64
}

// NewChangeToken builds a token from ledger ids. The slice is copied.
func NewChangeToken(ids []int64) ChangeToken {
	out := make([]int64, len(ids))
	copy(out, ids)
	return ChangeToken{ids: out}
}

// IDs returns a copy of the ledger ids the token covers.
func (t ChangeToken) IDs() []int64 {
	out := make([]int64, len(t.ids))
	copy(out, t.ids)
	return out
}

// Empty reports whether the token covers no ledger entries.
func (t ChangeToken) Empty() bool { return len(t.ids) == 0 }

// SquashedChange pairs the net effect of a resource's pending history with
// the token naming the ledger entries it collapses. It is a transient view,
// never persisted.
type SquashedChange struct {
	Token  ChangeToken
	Change LocalChange
}
