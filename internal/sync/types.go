// Package sync implements the upload half of the engine: squashing the
// ledger into net changes, generating transaction bundles, and streaming
// per-bundle upload results.
package sync

import (
	"time"

	"github.com/clinisync/clinisync/internal/model"
)

// Transaction pairs a generated bundle with the change tokens it represents
// and the squashed changes its entries were built from, in entry order.
type Transaction struct {
	Bundle  model.Bundle
	Tokens  []model.ChangeToken
	Changes []model.SquashedChange
}

// UploadResult is the outcome of submitting one bundle. Exactly one of
// Bundle (transaction-response) or Outcome (server or transport error) is
// set.
type UploadResult struct {
	Tokens  []model.ChangeToken
	Changes []model.SquashedChange
	Bundle  *model.Bundle
	Outcome *model.OperationOutcome
}

// Success reports whether the bundle was applied by the server.
func (r *UploadResult) Success() bool { return r.Bundle != nil }

// Stats summarizes one sync pass.
type Stats struct {
	Bundles   int
	Succeeded int
	Failed    int
	Acked     int // ledger entries deleted after confirmation
	Duration  time.Duration
}
