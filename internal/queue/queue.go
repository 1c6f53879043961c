// Package queue implements the durable job queue: a primary job table plus
// an ordered index of queued jobs keyed (availableAt, id), with atomic claim
// semantics and deduplication by canonical job id.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/fieldguide/internal/domain"
	"github.com/rezkam/fieldguide/internal/storage/kv"
)

// Sub-table names within the queue store. Both live in the same store so
// job and index mutations can share one atomic group.
const (
	jobsTable  = "jobs"
	indexTable = "queue-index"
)

// Recorder mirrors queue lifecycle events into the observer's log.
// Implementations must tolerate concurrent calls.
type Recorder interface {
	Log(ctx context.Context, action domain.Action, severity domain.Severity, body map[string]any) error
}

// Queue owns the job records and their availability index.
//
// Invariants maintained by the operations below:
//   - at most one job record per canonical id,
//   - a job has an index entry if and only if its status is queued,
//   - every mutation commits fully or not at all.
//
// All methods are safe for concurrent use; rival claims are linearized by
// the store's atomic groups.
type Queue struct {
	jobs     kv.Table[domain.Job]
	index    kv.Table[string]
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	padWidth int
}

// Option is a functional option for configuring Queue.
type Option func(*Queue)

// WithRecorder mirrors submissions and duplicate hits into an event log.
func WithRecorder(rec Recorder) Option {
	return func(q *Queue) {
		q.recorder = rec
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithClock overrides the wall clock, for tests running on simulated time.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithPadWidth sets the zero-pad width of availability timestamps inside
// index keys. All writers and readers of one store must agree on it.
func WithPadWidth(width int) Option {
	return func(q *Queue) {
		q.padWidth = width
	}
}

// New creates a queue over store with the given options.
func New(store kv.Store, opts ...Option) *Queue {
	q := &Queue{
		jobs:     kv.NewTable[domain.Job](store, jobsTable),
		index:    kv.NewTable[string](store, indexTable),
		logger:   slog.Default(),
		now:      time.Now,
		padWidth: kv.DefaultTimeKeyWidth,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Submit creates a queued job for name, immediately eligible for claim.
//
// Submission deduplicates on the canonical id: when a record already exists
// and is not failed, the existing record is returned with isDuplicate=true
// and nothing is mutated. A failed record is reset to a fresh queued job.
func (q *Queue) Submit(ctx context.Context, name string) (job *domain.Job, isDuplicate bool, err error) {
	id := domain.CanonicalID(name)

	existing, err := q.jobs.Get(ctx, id)
	if err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
		return nil, false, fmt.Errorf("lookup job %s: %w", id, err)
	}
	if existing != nil && existing.Status != domain.JobStatusFailed {
		q.record(ctx, domain.ActionJobDuplicate, domain.SeverityLog, map[string]any{
			"jobId":         existing.ID,
			"name":          name,
			"currentStatus": string(existing.Status),
		})
		return existing, true, nil
	}

	fresh := domain.NewJob(name, q.now().UnixMilli())

	var putJob kv.Op
	if existing != nil {
		// Resetting a failed record overwrites it in place.
		putJob, err = q.jobs.PutOp(fresh.ID, fresh)
	} else {
		// A fresh create must lose against a concurrent create of the
		// same id instead of overwriting it.
		putJob, err = q.jobs.PutAbsentOp(fresh.ID, fresh)
	}
	if err != nil {
		return nil, false, err
	}

	entryID := fresh.ID
	putEntry, err := q.index.PutOp(kv.TimeKey(fresh.AvailableAt, fresh.ID, q.padWidth), &entryID)
	if err != nil {
		return nil, false, err
	}

	if err := q.jobs.Apply(ctx, putJob, putEntry); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			winner, gerr := q.jobs.Get(ctx, id)
			if gerr != nil {
				return nil, false, fmt.Errorf("lookup job %s after submit conflict: %w", id, gerr)
			}
			q.record(ctx, domain.ActionJobDuplicate, domain.SeverityLog, map[string]any{
				"jobId":         winner.ID,
				"name":          name,
				"currentStatus": string(winner.Status),
			})
			return winner, true, nil
		}
		return nil, false, fmt.Errorf("submit job %s: %w", id, err)
	}

	q.record(ctx, domain.ActionJobSubmitted, domain.SeverityLog, map[string]any{
		"jobId": fresh.ID,
		"name":  fresh.Name,
	})
	return fresh, false, nil
}

// Claim atomically takes the next eligible job and transitions it to
// processing. Returns (nil, nil) when no queued job is available yet.
//
// The head of the index is the least (availableAt, id) key, so eligibility
// only needs one comparison: if the head lies in the future, so does
// everything behind it. Index entries whose job record is missing or no
// longer queued are healed here, one entry per call, by dropping the entry
// and reporting no claim.
func (q *Queue) Claim(ctx context.Context) (*domain.Job, error) {
	head, err := q.index.Scan(ctx, "", 1)
	if err != nil {
		return nil, fmt.Errorf("read queue head: %w", err)
	}
	if len(head) == 0 {
		return nil, nil
	}

	key := head[0].Key
	availableAt, id, err := kv.ParseTimeKey(key, q.padWidth)
	if err != nil {
		// A malformed head would wedge the queue forever; drop it.
		q.logger.WarnContext(ctx, "dropping malformed queue index entry", "key", key)
		if derr := q.index.Delete(ctx, key); derr != nil {
			return nil, fmt.Errorf("drop malformed index entry %q: %w", key, derr)
		}
		return nil, nil
	}

	if availableAt > q.now().UnixMilli() {
		return nil, nil
	}

	job, err := q.jobs.Get(ctx, id)
	if errors.Is(err, kv.ErrKeyNotFound) {
		q.logger.WarnContext(ctx, "healing orphan queue index entry", "key", key, "job_id", id)
		if derr := q.index.Delete(ctx, key); derr != nil {
			return nil, fmt.Errorf("heal orphan index entry %q: %w", key, derr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}

	if job.Status != domain.JobStatusQueued {
		// Entry left behind by a resubmission race; the job has moved on.
		q.logger.WarnContext(ctx, "healing stale queue index entry", "key", key, "job_id", id, "status", string(job.Status))
		if derr := q.index.Delete(ctx, key); derr != nil {
			return nil, fmt.Errorf("heal stale index entry %q: %w", key, derr)
		}
		return nil, nil
	}

	job.Status = domain.JobStatusProcessing
	putJob, err := q.jobs.PutOp(job.ID, job)
	if err != nil {
		return nil, err
	}

	// The conditional delete is the claim token: of two rivals that read
	// the same head, exactly one removes the entry and wins.
	err = q.jobs.Apply(ctx, putJob, q.index.DeleteExistingOp(key))
	if errors.Is(err, kv.ErrConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}

	return job, nil
}

// Complete marks the job completed and stores the processor result as its
// body. Returns domain.ErrJobNotFound when no such job exists.
func (q *Queue) Complete(ctx context.Context, id string, body map[string]any) (*domain.Job, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if body == nil {
		body = map[string]any{}
	}
	job.Status = domain.JobStatusCompleted
	job.Body = body

	if err := q.jobs.Put(ctx, job.ID, job); err != nil {
		return nil, fmt.Errorf("complete job %s: %w", id, err)
	}
	return job, nil
}

// Retry requeues the job for another attempt at nextAvailableAt,
// incrementing its retry count. The job write and the index insert commit
// as one group. Returns domain.ErrJobNotFound when no such job exists.
func (q *Queue) Retry(ctx context.Context, id string, nextAvailableAt int64) (*domain.Job, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatusQueued
	job.RetryCount++
	job.AvailableAt = nextAvailableAt

	putJob, err := q.jobs.PutOp(job.ID, job)
	if err != nil {
		return nil, err
	}
	entryID := job.ID
	putEntry, err := q.index.PutOp(kv.TimeKey(nextAvailableAt, job.ID, q.padWidth), &entryID)
	if err != nil {
		return nil, err
	}

	if err := q.jobs.Apply(ctx, putJob, putEntry); err != nil {
		return nil, fmt.Errorf("retry job %s: %w", id, err)
	}
	return job, nil
}

// Fail marks the job permanently failed. The record is kept, with no index
// entry, until a resubmission resets it. Returns domain.ErrJobNotFound when
// no such job exists.
func (q *Queue) Fail(ctx context.Context, id string) (*domain.Job, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatusFailed

	if err := q.jobs.Put(ctx, job.ID, job); err != nil {
		return nil, fmt.Errorf("fail job %s: %w", id, err)
	}
	return job, nil
}

// Get returns the job stored under the canonical id.
// Returns domain.ErrJobNotFound when no such job exists.
func (q *Queue) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := q.jobs.Get(ctx, id)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) record(ctx context.Context, action domain.Action, severity domain.Severity, body map[string]any) {
	if q.recorder == nil {
		return
	}
	if err := q.recorder.Log(ctx, action, severity, body); err != nil {
		q.logger.WarnContext(ctx, "failed to record queue event", "action", string(action), "error", err)
	}
}
