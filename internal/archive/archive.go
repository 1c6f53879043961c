// Package archive exports completed research to long-lived storage.
//
// Archiving is best effort: callers write a snapshot after a job completes
// and log failures without touching job state. Sinks exist for a local
// directory and for a GCS bucket.
package archive

import (
	"context"

	"github.com/rezkam/fieldguide/internal/domain"
)

// Record is the JSON object written for one completed job.
type Record struct {
	JobID       string         `json:"jobId"`
	Name        string         `json:"name"`
	CompletedAt int64          `json:"completedAt"`
	Body        map[string]any `json:"body"`
}

// Sink persists archive records keyed by job id.
type Sink interface {
	// Archive writes a snapshot of the completed job.
	// Archiving the same job again overwrites the previous snapshot.
	Archive(ctx context.Context, job *domain.Job) error

	// List returns the ids of all archived jobs in ascending order.
	List(ctx context.Context) ([]string, error)
}
