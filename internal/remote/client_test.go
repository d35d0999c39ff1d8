package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinisync/clinisync/internal/model"
)

func TestPostBundle_SendsBearerAuth(t *testing.T) {
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		json.NewEncoder(w).Encode(model.Bundle{ResourceType: model.TypeBundle, Type: model.BundleTypeTransactionResponse})
	}))
	defer srv.Close()

	s := NewHTTPDataSource(srv.URL, "secret-key", time.Second)
	if _, err := s.PostBundle(context.Background(), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
}

func TestPostBundle_ReturnsStructuredRejection(t *testing.T) {
	// Given: A server rejecting the bundle with an outcome payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(model.OperationOutcome{
			ResourceType: model.TypeOperationOutcome,
			Issue:        []model.OutcomeIssue{{Severity: "error", Code: "conflict"}},
		})
	}))
	defer srv.Close()

	s := NewHTTPDataSource(srv.URL, "", time.Second)

	// When: The bundle is posted
	body, err := s.PostBundle(context.Background(), []byte(`{}`))

	// Then: The rejection body comes back as data, not an error
	if err != nil {
		t.Fatalf("structured rejection must not be a transport error: %v", err)
	}
	var outcome model.OperationOutcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.ResourceType != model.TypeOperationOutcome {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestPostBundle_OpaqueServerErrorIsTransportFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	s := NewHTTPDataSource(srv.URL, "", time.Second)
	if _, err := s.PostBundle(context.Background(), []byte(`{}`)); err == nil {
		t.Error("expected error for non-JSON server failure")
	}
}

func TestLoad_RetriesTransientFailures(t *testing.T) {
	// Given: A server failing twice before succeeding
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(model.Bundle{
			ResourceType: model.TypeBundle,
			Type:         "searchset",
		})
	}))
	defer srv.Close()

	s := NewHTTPDataSource(srv.URL, "", time.Second)

	// When: A load runs
	bundle, err := s.Load(context.Background(), "Patient")

	// Then: It eventually succeeds
	if err != nil {
		t.Fatal(err)
	}
	if bundle.ResourceType != model.TypeBundle {
		t.Errorf("unexpected bundle: %+v", bundle)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestInsert_PutsByID(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{"resourceType":"Patient","id":"p1"}`))
	}))
	defer srv.Close()

	s := NewHTTPDataSource(srv.URL, "", time.Second)
	if _, err := s.Insert(context.Background(), "Patient", "p1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPut || gotPath != "/Patient/p1" {
		t.Errorf("expected PUT /Patient/p1, got %s %s", gotMethod, gotPath)
	}
}
