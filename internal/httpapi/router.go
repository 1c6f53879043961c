package httpapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the chi router with all middleware and
// routes. rec may be nil, in which case requests are served but not
// mirrored into the observer.
func NewRouter(h *Handler, rec Recorder, cfg ServerConfig) *chi.Mux {
	cfg.applyDefaults()

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(RecordRequests(rec, slog.Default()))

	r.Get("/health", h.Health)
	r.Post("/bird", h.SubmitBird)
	r.Get("/bird", h.GetBird)
	r.Get("/metrics", h.GetMetrics)

	return r
}
