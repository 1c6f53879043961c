// Package httpapi is the admission surface: a small JSON API that submits
// research jobs into the queue and reads completed research back out.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rezkam/fieldguide/internal/domain"
	"github.com/rezkam/fieldguide/internal/httpapi/response"
	"github.com/rezkam/fieldguide/internal/observer"
)

// Queue is the slice of queue behavior the admission surface needs.
type Queue interface {
	// Submit enqueues research for name, deduplicating by canonical id.
	Submit(ctx context.Context, name string) (job *domain.Job, isDuplicate bool, err error)

	// Get returns the job stored under the canonical id.
	// Returns domain.ErrJobNotFound when no such job exists.
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// MetricsSource computes windowed metrics from the event log.
type MetricsSource interface {
	Metrics(ctx context.Context, windowMs int64) (observer.Metrics, error)
	DefaultWindowMs() int64
}

// Handler serves the admission endpoints.
type Handler struct {
	queue   Queue
	metrics MetricsSource
	logger  *slog.Logger
}

// NewHandler creates a Handler over the queue and metrics source.
func NewHandler(queue Queue, metrics MetricsSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queue: queue, metrics: metrics, logger: logger}
}

type submitRequest struct {
	Name string `json:"name"`
}

// submitResponse is the shape returned by POST /bird.
type submitResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    domain.JobStatus `json:"status"`
	CreatedAt int64            `json:"createdAt"`
}

// birdResponse is the shape returned by GET /bird for completed research.
type birdResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    domain.JobStatus `json:"status"`
	CreatedAt int64            `json:"createdAt"`
	Body      map[string]any   `json:"body"`
}

// SubmitBird handles POST /bird. A fresh submission returns 201; a
// deduplicated one returns 200 with the existing record.
func (h *Handler) SubmitBird(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "name must be a string")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		response.BadRequest(w, "name is required")
		return
	}

	job, isDuplicate, err := h.queue.Submit(r.Context(), req.Name)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	body := submitResponse{
		ID:        job.ID,
		Name:      job.Name,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}
	if isDuplicate {
		response.OK(w, body)
		return
	}
	response.Created(w, body)
}

// GetBird handles GET /bird?name=. Research is only readable once the job
// has completed; anything else is a 404 so callers simply poll.
func (h *Handler) GetBird(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		response.BadRequest(w, "name query parameter is required")
		return
	}

	job, err := h.queue.Get(r.Context(), domain.CanonicalID(name))
	if errors.Is(err, domain.ErrJobNotFound) {
		response.NotFound(w, "bird not found")
		return
	}
	if err != nil {
		response.InternalError(w, r, err)
		return
	}
	if job.Status != domain.JobStatusCompleted {
		response.NotFound(w, "research not ready")
		return
	}

	response.OK(w, birdResponse{
		ID:        job.ID,
		Name:      job.Name,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		Body:      job.Body,
	})
}

// GetMetrics handles GET /metrics?window=. The window is milliseconds of
// history to aggregate, defaulting to the observer's configured window.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	windowMs := h.metrics.DefaultWindowMs()
	if raw := r.URL.Query().Get("window"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			response.BadRequest(w, "window must be a positive integer of milliseconds")
			return
		}
		windowMs = v
	}

	m, err := h.metrics.Metrics(r.Context(), windowMs)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}
	response.OK(w, m)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}
