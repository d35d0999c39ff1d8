package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinisync/clinisync/internal/model"
	"github.com/clinisync/clinisync/internal/store"
	"github.com/clinisync/clinisync/internal/validation"
)

// Handler implements the local status API handlers.
type Handler struct {
	store   *store.SQLiteStore
	version string
}

// NewHandler creates a new Handler.
func NewHandler(s *store.SQLiteStore, version string) *Handler {
	return &Handler{store: s, version: version}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	PendingChanges int64  `json:"pending_changes"`
	LastSyncAt     string `json:"last_sync_at,omitempty"`
	SourceID       string `json:"source_id,omitempty"`
}

// ChangesResponse is the body of GET /api/v1/changes.
type ChangesResponse struct {
	Changes []model.LocalChange `json:"changes"`
	Total   int                 `json:"total"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: h.version})
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.PendingCount(r.Context())
	if err != nil {
		slog.Error("status failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read pending changes")
		return
	}

	resp := StatusResponse{PendingChanges: pending}
	if v, err := h.store.GetSyncMeta(r.Context(), store.SyncMetaLastSyncAt); err == nil {
		resp.LastSyncAt = v
	}
	if v, err := h.store.GetSyncMeta(r.Context(), store.SyncMetaSourceID); err == nil {
		resp.SourceID = v
	}

	WriteJSON(w, http.StatusOK, resp)
}

// Changes handles GET /api/v1/changes. It returns the pending ledger in
// insertion order, optionally truncated by a limit query parameter.
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	var c validation.Collector
	limit, verr := validation.NonNegativeInt("limit", r.URL.Query().Get("limit"), 0)
	c.Add(verr)
	if c.HasErrors() {
		WriteProblem(w, r, http.StatusBadRequest, c.Summary())
		return
	}

	changes, err := h.store.AllChanges(r.Context())
	if err != nil {
		slog.Error("list changes failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read change ledger")
		return
	}

	total := len(changes)
	if limit > 0 && limit < len(changes) {
		changes = changes[:limit]
	}
	if changes == nil {
		changes = []model.LocalChange{}
	}

	WriteJSON(w, http.StatusOK, ChangesResponse{Changes: changes, Total: total})
}

// GetResource handles GET /api/v1/resources/{type}/{id}. The stored body is
// returned verbatim with version metadata in headers.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	resourceID := chi.URLParam(r, "id")

	var c validation.Collector
	c.Add(validation.RequireNonEmpty("type", resourceType))
	c.Add(validation.RequireNonEmpty("id", resourceID))
	if c.HasErrors() {
		WriteProblem(w, r, http.StatusBadRequest, c.Summary())
		return
	}

	res, err := h.store.Get(r.Context(), resourceType, resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "Resource not found")
			return
		}
		slog.Error("get resource failed", "error", err, "type", resourceType, "id", resourceID)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to load resource")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if res.VersionID != "" {
		w.Header().Set("ETag", `W/"`+res.VersionID+`"`)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Body)
}

// SearchResources handles POST /api/v1/search. The request body is a search
// specification decoded into search.Spec via the spec's JSON form.
func (h *Handler) SearchResources(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	spec, err := decodeSearchSpec(raw)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.store.Search(r.Context(), &spec)
	if err != nil {
		slog.Error("search failed", "error", err, "type", spec.Type)
		WriteProblem(w, r, http.StatusInternalServerError, "Search failed")
		return
	}

	bodies := make([]json.RawMessage, 0, len(results))
	for _, res := range results {
		bodies = append(bodies, json.RawMessage(res.Body))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"total":     len(bodies),
		"resources": bodies,
	})
}
