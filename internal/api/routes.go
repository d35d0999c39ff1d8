package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. The API binds
// to loopback only, so there is no auth layer here.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Get("/changes", h.Changes)
		r.Get("/resources/{type}/{id}", h.GetResource)
		r.Post("/search", h.SearchResources)
	})

	return r
}
