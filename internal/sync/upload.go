package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinisync/clinisync/internal/model"
	"github.com/clinisync/clinisync/internal/remote"
	"github.com/tidwall/gjson"
)

// Uploader submits generated transactions one at a time and classifies each
// response. Bundles are strictly sequential: partial-failure attribution to
// specific change tokens requires a one-bundle-at-a-time response mapping.
type Uploader struct {
	source remote.DataSource
	gen    *Generator
}

// NewUploader pairs a data source with a bundle generator.
func NewUploader(source remote.DataSource, gen *Generator) *Uploader {
	return &Uploader{source: source, gen: gen}
}

// Upload generates transactions for the given groups and returns an
// iterator over per-bundle results. The sequence is finite, ordered the same
// as the generated bundles, and continues past failed bundles.
func (u *Uploader) Upload(groups [][]model.SquashedChange) *ResultIter {
	return &ResultIter{
		source: u.source,
		txs:    u.gen.Generate(groups),
	}
}

// ResultIter yields one UploadResult per bundle. It is cooperatively
// cancellable: cancellation is observed between bundles, never mid-bundle,
// so an in-flight server transaction is always either fully applied or
// fully rejected.
type ResultIter struct {
	source remote.DataSource
	txs    []Transaction
	next   int
}

// Remaining reports how many bundles have not yet been submitted.
func (it *ResultIter) Remaining() int {
	return len(it.txs) - it.next
}

// Next submits the next bundle and returns its result. Returns false when
// the sequence is exhausted or the context is cancelled.
func (it *ResultIter) Next(ctx context.Context) (*UploadResult, bool) {
	if it.next >= len(it.txs) || ctx.Err() != nil {
		return nil, false
	}
	tx := it.txs[it.next]
	it.next++

	result := &UploadResult{Tokens: tx.Tokens, Changes: tx.Changes}

	payload, err := json.Marshal(tx.Bundle)
	if err != nil {
		result.Outcome = syntheticOutcome("invalid", fmt.Sprintf("encode bundle: %v", err))
		return result, true
	}

	raw, err := it.source.PostBundle(ctx, payload)
	if err != nil {
		// Transport fault: never fatal to the sequence.
		result.Outcome = syntheticOutcome("transport", err.Error())
		return result, true
	}

	// The discriminator is read once from the response envelope.
	switch gjson.GetBytes(raw, "resourceType").String() {
	case model.TypeBundle:
		var bundle model.Bundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			result.Outcome = syntheticOutcome("invalid", fmt.Sprintf("decode response bundle: %v", err))
			return result, true
		}
		result.Bundle = &bundle
	case model.TypeOperationOutcome:
		var outcome model.OperationOutcome
		if err := json.Unmarshal(raw, &outcome); err != nil {
			result.Outcome = syntheticOutcome("invalid", fmt.Sprintf("decode operation outcome: %v", err))
			return result, true
		}
		result.Outcome = &outcome
	default:
		result.Outcome = syntheticOutcome("invalid",
			fmt.Sprintf("unexpected response resource type %q", gjson.GetBytes(raw, "resourceType").String()))
	}
	return result, true
}

// syntheticOutcome wraps a client-side fault in the server's error shape so
// every failure surfaces uniformly in the result stream.
func syntheticOutcome(code, diagnostics string) *model.OperationOutcome {
	return &model.OperationOutcome{
		ResourceType: model.TypeOperationOutcome,
		Issue: []model.OutcomeIssue{
			{Severity: "error", Code: code, Diagnostics: diagnostics},
		},
	}
}
