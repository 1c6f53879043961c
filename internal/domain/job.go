package domain

import (
	"regexp"
	"strings"
)

// JobStatus represents the current state of a research job.
// Value object - immutable string enum. Values are lowercase because they
// travel verbatim in API responses and persisted records.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further worker transitions.
// A failed job can still be reset by resubmission.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a unit of research work identified by the canonical form of its
// request name. Timestamps are wall-clock milliseconds since the Unix epoch.
type Job struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	CreatedAt   int64          `json:"createdAt"`
	AvailableAt int64          `json:"availableAt"`
	RetryCount  int            `json:"retryCount"`
	Status      JobStatus      `json:"status"`
	Body        map[string]any `json:"body"`
}

// NewJob builds a freshly queued job for name, eligible immediately.
// The result body stays empty until a worker completes the job.
func NewJob(name string, nowMillis int64) *Job {
	return &Job{
		ID:          CanonicalID(name),
		Name:        name,
		CreatedAt:   nowMillis,
		AvailableAt: nowMillis,
		RetryCount:  0,
		Status:      JobStatusQueued,
		Body:        map[string]any{},
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CanonicalID derives the deduplication key for a request name: lowercase,
// with each run of whitespace collapsed to a single hyphen.
func CanonicalID(name string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(name), "-")
}
