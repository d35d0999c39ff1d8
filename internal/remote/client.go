// Package remote implements the data-source collaborator: a narrow REST
// client over the clinical server. Transport failures are returned as plain
// errors; the sync layer converts them into per-bundle failure results.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinisync/clinisync/internal/model"
	"github.com/sethvargo/go-retry"
)

// DataSource is the narrow interface the sync engine consumes.
type DataSource interface {
	// Load fetches a bundle of resources from a server path.
	Load(ctx context.Context, path string) (*model.Bundle, error)
	// Insert creates a resource at its own id.
	Insert(ctx context.Context, resourceType, resourceID string, payload json.RawMessage) (json.RawMessage, error)
	// Update applies a partial patch to a resource.
	Update(ctx context.Context, resourceType, resourceID string, patchPayload json.RawMessage) (*model.OperationOutcome, error)
	// Delete removes a resource.
	Delete(ctx context.Context, resourceType, resourceID string) (*model.OperationOutcome, error)
	// PostBundle submits a transaction bundle and returns the raw response
	// resource for discriminator-based classification by the caller.
	PostBundle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// HTTPDataSource talks JSON over HTTP with bearer authentication.
type HTTPDataSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPDataSource creates a data source rooted at baseURL.
func NewHTTPDataSource(baseURL, apiKey string, timeout time.Duration) *HTTPDataSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDataSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Load fetches a bundle, retrying transient failures with exponential
// backoff. Load is the only retried operation; writes are never replayed by
// the client.
func (s *HTTPDataSource) Load(ctx context.Context, path string) (*model.Bundle, error) {
	var body []byte
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := s.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return retry.RetryableError(err)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	var bundle model.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &bundle, nil
}

// Insert creates a resource by id and returns the server's representation.
func (s *HTTPDataSource) Insert(ctx context.Context, resourceType, resourceID string, payload json.RawMessage) (json.RawMessage, error) {
	body, err := s.do(ctx, http.MethodPut, resourceType+"/"+resourceID, payload)
	if err != nil {
		return nil, fmt.Errorf("insert %s/%s: %w", resourceType, resourceID, err)
	}
	return body, nil
}

// Update applies a partial patch to a resource.
func (s *HTTPDataSource) Update(ctx context.Context, resourceType, resourceID string, patchPayload json.RawMessage) (*model.OperationOutcome, error) {
	body, err := s.do(ctx, http.MethodPatch, resourceType+"/"+resourceID, patchPayload)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", resourceType, resourceID, err)
	}
	return decodeOutcome(body)
}

// Delete removes a resource.
func (s *HTTPDataSource) Delete(ctx context.Context, resourceType, resourceID string) (*model.OperationOutcome, error) {
	body, err := s.do(ctx, http.MethodDelete, resourceType+"/"+resourceID, nil)
	if err != nil {
		return nil, fmt.Errorf("delete %s/%s: %w", resourceType, resourceID, err)
	}
	return decodeOutcome(body)
}

// PostBundle submits a transaction bundle to the server base path. The raw
// body is returned for non-2xx responses too when the server produced a
// structured payload, so the caller can classify it.
func (s *HTTPDataSource) PostBundle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	body, err := s.do(ctx, http.MethodPost, "", payload)
	if err != nil {
		return nil, fmt.Errorf("post bundle: %w", err)
	}
	return body, nil
}

// do sends one request and returns the response body. Responses carrying a
// JSON body are returned regardless of status code: the server expresses
// rejection as an operation-outcome payload, which is data, not a transport
// fault.
func (s *HTTPDataSource) do(ctx context.Context, method, path string, payload json.RawMessage) ([]byte, error) {
	url := s.baseURL
	if path != "" {
		url = s.baseURL + "/" + path
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	if json.Valid(body) && len(body) > 0 {
		return body, nil
	}
	return nil, fmt.Errorf("server returned %d", resp.StatusCode)
}

// decodeOutcome parses an operation-outcome response body.
func decodeOutcome(body []byte) (*model.OperationOutcome, error) {
	var outcome model.OperationOutcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return nil, fmt.Errorf("decode operation outcome: %w", err)
	}
	return &outcome, nil
}
