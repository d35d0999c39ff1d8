package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/clinisync/clinisync/internal/model"
)

// fakeSource scripts PostBundle responses per call index.
type fakeSource struct {
	responses []fakeResponse
	posted    [][]byte
}

type fakeResponse struct {
	body []byte
	err  error
}

func (f *fakeSource) PostBundle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	call := len(f.posted)
	f.posted = append(f.posted, payload)
	if call >= len(f.responses) {
		return nil, fmt.Errorf("unexpected call %d", call)
	}
	r := f.responses[call]
	return r.body, r.err
}

func (f *fakeSource) Load(ctx context.Context, path string) (*model.Bundle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) Insert(ctx context.Context, resourceType, resourceID string, payload json.RawMessage) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) Update(ctx context.Context, resourceType, resourceID string, patchPayload json.RawMessage) (*model.OperationOutcome, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) Delete(ctx context.Context, resourceType, resourceID string) (*model.OperationOutcome, error) {
	return nil, errors.New("not implemented")
}

func transactionResponse(t *testing.T, etags ...string) []byte {
	t.Helper()
	entries := make([]model.BundleEntry, 0, len(etags))
	for _, etag := range etags {
		entries = append(entries, model.BundleEntry{
			Response: &model.EntryResponse{Status: "200 OK", Etag: etag},
		})
	}
	raw, err := json.Marshal(model.Bundle{
		ResourceType: model.TypeBundle,
		Type:         model.BundleTypeTransactionResponse,
		Entry:        entries,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func operationOutcome(t *testing.T, code, diagnostics string) []byte {
	t.Helper()
	raw, err := json.Marshal(model.OperationOutcome{
		ResourceType: model.TypeOperationOutcome,
		Issue:        []model.OutcomeIssue{{Severity: "error", Code: code, Diagnostics: diagnostics}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func newTestUploader(t *testing.T, source *fakeSource) *Uploader {
	t.Helper()
	gen, err := NewGenerator(DefaultGeneratorConfig)
	if err != nil {
		t.Fatal(err)
	}
	return NewUploader(source, gen)
}

func singleGroups(n int) [][]model.SquashedChange {
	groups := make([][]model.SquashedChange, 0, n)
	for i := 0; i < n; i++ {
		groups = append(groups, []model.SquashedChange{
			squashedChange(int64(i+1), fmt.Sprintf("p%d", i+1), model.ChangeTypeInsert,
				fmt.Sprintf(`{"resourceType":"Patient","id":"p%d"}`, i+1)),
		})
	}
	return groups
}

func TestUpload_SuccessResponsesInOrder(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		{body: transactionResponse(t, `W/"1"`)},
		{body: transactionResponse(t, `W/"1"`)},
	}}
	iter := newTestUploader(t, source).Upload(singleGroups(2))

	for i := 0; i < 2; i++ {
		result, ok := iter.Next(context.Background())
		if !ok {
			t.Fatalf("expected result %d", i)
		}
		if !result.Success() {
			t.Errorf("result %d: expected success, got outcome %+v", i, result.Outcome)
		}
		if want := fmt.Sprintf("p%d", i+1); result.Changes[0].Change.ResourceID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, result.Changes[0].Change.ResourceID)
		}
	}
	if _, ok := iter.Next(context.Background()); ok {
		t.Error("expected exhausted iterator")
	}
}

func TestUpload_TransportFaultYieldsFailureResult(t *testing.T) {
	// Given: Three bundles where the second hits a transport fault
	source := &fakeSource{responses: []fakeResponse{
		{body: transactionResponse(t, `W/"1"`)},
		{err: errors.New("connection reset")},
		{body: transactionResponse(t, `W/"1"`)},
	}}
	iter := newTestUploader(t, source).Upload(singleGroups(3))

	// When: All results are drained
	var results []*UploadResult
	for {
		result, ok := iter.Next(context.Background())
		if !ok {
			break
		}
		results = append(results, result)
	}

	// Then: Exactly one result per bundle, in submission order
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success() || results[1].Success() || !results[2].Success() {
		t.Errorf("expected success, failure, success; got %v %v %v",
			results[0].Success(), results[1].Success(), results[2].Success())
	}

	// The fault surfaces in the server's error shape.
	outcome := results[1].Outcome
	if outcome == nil || len(outcome.Issue) != 1 {
		t.Fatalf("expected synthetic outcome, got %+v", outcome)
	}
	if outcome.Issue[0].Code != "transport" {
		t.Errorf("expected transport code, got %q", outcome.Issue[0].Code)
	}
	if len(source.posted) != 3 {
		t.Errorf("expected all 3 bundles posted, got %d", len(source.posted))
	}
}

func TestUpload_ServerRejectionClassifiedByDiscriminator(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		{body: operationOutcome(t, "conflict", "version mismatch")},
	}}
	iter := newTestUploader(t, source).Upload(singleGroups(1))

	result, ok := iter.Next(context.Background())
	if !ok {
		t.Fatal("expected a result")
	}
	if result.Success() {
		t.Fatal("expected failure")
	}
	if result.Outcome.Issue[0].Diagnostics != "version mismatch" {
		t.Errorf("unexpected outcome: %+v", result.Outcome)
	}
}

func TestUpload_UnknownResponseTypeIsFailure(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		{body: []byte(`{"resourceType":"Patient","id":"p1"}`)},
	}}
	iter := newTestUploader(t, source).Upload(singleGroups(1))

	result, ok := iter.Next(context.Background())
	if !ok {
		t.Fatal("expected a result")
	}
	if result.Success() {
		t.Error("expected failure for unknown response type")
	}
}

func TestUpload_CancellationStopsBetweenBundles(t *testing.T) {
	// Given: Two bundles and a context cancelled after the first
	source := &fakeSource{responses: []fakeResponse{
		{body: transactionResponse(t, `W/"1"`)},
		{body: transactionResponse(t, `W/"1"`)},
	}}
	iter := newTestUploader(t, source).Upload(singleGroups(2))

	ctx, cancel := context.WithCancel(context.Background())
	if _, ok := iter.Next(ctx); !ok {
		t.Fatal("expected first result")
	}
	cancel()

	// Then: The sequence ends without submitting the second bundle
	if _, ok := iter.Next(ctx); ok {
		t.Error("expected iterator to stop after cancellation")
	}
	if len(source.posted) != 1 {
		t.Errorf("expected 1 bundle posted, got %d", len(source.posted))
	}
	if iter.Remaining() != 1 {
		t.Errorf("expected 1 bundle remaining, got %d", iter.Remaining())
	}
}
