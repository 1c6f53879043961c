package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"runtime/debug"
	"time"

	"github.com/rezkam/fieldguide/internal/domain"
)

// JobQueue is the slice of queue behavior a worker drives.
// All methods must be safe for concurrent use by multiple workers.
type JobQueue interface {
	// Claim atomically claims the next available job.
	// Returns nil if no job is available.
	Claim(ctx context.Context) (*domain.Job, error)

	// Complete marks a claimed job as completed and stores its result body.
	Complete(ctx context.Context, id string, body map[string]any) (*domain.Job, error)

	// Retry requeues a claimed job to become available again at
	// nextAvailableAt, incrementing its retry count.
	Retry(ctx context.Context, id string, nextAvailableAt int64) (*domain.Job, error)

	// Fail marks a claimed job as permanently failed.
	Fail(ctx context.Context, id string) (*domain.Job, error)
}

// Processor performs the work for one claimed job and returns the body to
// store on completion. Any returned error counts as a processing failure
// and goes through the retry policy.
type Processor interface {
	Process(ctx context.Context, job *domain.Job) (map[string]any, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *domain.Job) (map[string]any, error)

func (f ProcessorFunc) Process(ctx context.Context, job *domain.Job) (map[string]any, error) {
	return f(ctx, job)
}

// Recorder receives worker lifecycle events.
type Recorder interface {
	Log(ctx context.Context, action domain.Action, severity domain.Severity, body map[string]any) error
}

// Archiver exports a snapshot of a job after successful completion.
// Archiving is best effort and never affects job state.
type Archiver interface {
	Archive(ctx context.Context, job *domain.Job) error
}

// RetryPolicy bounds and paces retries for failed jobs.
type RetryPolicy struct {
	BaseDelay  time.Duration // exponential backoff unit (default: 1s)
	MaxRetries int           // retries allowed after the first attempt (default: 3)
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  time.Second,
		MaxRetries: 3,
	}
}

// Worker polls the queue on a fixed interval, claims at most one job per
// tick, runs it through the processor and reports the outcome back to the
// queue. Run several Workers over the same queue to process in parallel;
// claim atomicity guarantees they never pick up the same job.
type Worker struct {
	queue        JobQueue
	processor    Processor
	recorder     Recorder
	archiver     Archiver
	logger       *slog.Logger
	id           string
	pollInterval time.Duration
	retry        RetryPolicy
	now          func() time.Time
	jitter       func(maxMillis int64) int64
}

// Option is a functional option for configuring Worker.
type Option func(*Worker)

// WithID overrides the generated worker id.
func WithID(id string) Option {
	return func(w *Worker) {
		w.id = id
	}
}

// WithRecorder sets the recorder that receives lifecycle events.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) {
		w.recorder = r
	}
}

// WithArchiver sets the sink that receives completed jobs.
func WithArchiver(a Archiver) Option {
	return func(w *Worker) {
		w.archiver = a
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithPollInterval sets how often the worker looks for an available job.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.pollInterval = d
	}
}

// WithRetryPolicy sets the backoff and retry bounds for failed jobs.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(w *Worker) {
		w.retry = p
	}
}

// WithClock sets the time source used for backoff scheduling.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// WithJitter sets the jitter source used to spread retry backoff.
// The function must return a value in [0, maxMillis).
func WithJitter(jitter func(maxMillis int64) int64) Option {
	return func(w *Worker) {
		w.jitter = jitter
	}
}

// New creates a Worker with the given queue and processor.
func New(queue JobQueue, processor Processor, opts ...Option) *Worker {
	w := &Worker{
		queue:        queue,
		processor:    processor,
		logger:       slog.Default(),
		id:           NewID(),
		pollInterval: 250 * time.Millisecond,
		retry:        DefaultRetryPolicy(),
		now:          time.Now,
		jitter:       cryptoJitter,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// NewID returns a short random worker id: "w-" plus four hex characters.
func NewID() string {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "w-0000"
	}
	return "w-" + hex.EncodeToString(b[:])
}

// ID returns the worker's id.
func (w *Worker) ID() string {
	return w.id
}

// Start records the worker-start event and polls until ctx is cancelled.
// Tick errors are logged and the loop keeps going; Start only returns on
// shutdown.
func (w *Worker) Start(ctx context.Context) error {
	w.record(ctx, domain.ActionWorkerStart, domain.SeverityLog, map[string]any{"workerId": w.id})
	w.logger.InfoContext(ctx, "worker started", "worker_id", w.id, "poll_interval", w.pollInterval)

	// Look for work immediately instead of sleeping out the first interval.
	if err := w.RunProcessOnce(ctx); err != nil {
		w.logger.ErrorContext(ctx, "worker tick failed", "worker_id", w.id, "error", err)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.RunProcessOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "worker tick failed", "worker_id", w.id, "error", err)
			}
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "worker stopped", "worker_id", w.id)
			return nil
		}
	}
}

// RunProcessOnce claims and processes at most one job.
// Returns nil if a job was processed (successfully or not) or if no job
// was available. Only store failures propagate as errors.
func (w *Worker) RunProcessOnce(ctx context.Context) error {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil
	}

	w.record(ctx, domain.ActionJobClaimed, domain.SeverityLog, map[string]any{
		"jobId":    job.ID,
		"workerId": w.id,
	})
	w.logger.InfoContext(ctx, "claimed job", "job_id", job.ID, "worker_id", w.id)

	body, err := w.process(ctx, job)
	if err != nil {
		return w.settleFailure(ctx, job, err)
	}

	completed, err := w.queue.Complete(ctx, job.ID, body)
	if err != nil {
		return fmt.Errorf("failed to mark job as completed: %w", err)
	}
	w.record(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{
		"jobId":    job.ID,
		"workerId": w.id,
	})
	w.logger.InfoContext(ctx, "job completed successfully", "job_id", job.ID, "worker_id", w.id)

	if w.archiver != nil {
		if err := w.archiver.Archive(ctx, completed); err != nil {
			w.logger.WarnContext(ctx, "failed to archive completed job", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// process invokes the processor with panic recovery so a panicking
// processor counts as a failed attempt instead of killing the worker.
func (w *Worker) process(ctx context.Context, job *domain.Job) (body map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "processor panicked",
				"job_id", job.ID,
				"worker_id", w.id,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return w.processor.Process(ctx, job)
}

// settleFailure applies the retry policy after a processing failure.
// The decision reads the retry count as it stood when the job failed,
// before the requeue increments it: a job that fails with MaxRetries
// retries already behind it is failed permanently.
func (w *Worker) settleFailure(ctx context.Context, job *domain.Job, procErr error) error {
	if job.RetryCount >= w.retry.MaxRetries {
		if _, err := w.queue.Fail(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to mark job as failed: %w", err)
		}
		w.record(ctx, domain.ActionJobFailed, domain.SeverityError, map[string]any{
			"jobId":      job.ID,
			"workerId":   w.id,
			"retryCount": job.RetryCount,
			"error":      procErr.Error(),
		})
		w.logger.ErrorContext(ctx, "job exhausted retries",
			"job_id", job.ID,
			"worker_id", w.id,
			"retry_count", job.RetryCount,
			"error", procErr)
		return nil
	}

	next := w.nextAvailableAt(job.RetryCount)
	requeued, err := w.queue.Retry(ctx, job.ID, next)
	if err != nil {
		return fmt.Errorf("failed to schedule job retry: %w", err)
	}
	w.record(ctx, domain.ActionJobRetry, domain.SeverityWarning, map[string]any{
		"jobId":           job.ID,
		"workerId":        w.id,
		"retryCount":      requeued.RetryCount,
		"nextAvailableAt": next,
		"error":           procErr.Error(),
	})
	w.logger.WarnContext(ctx, "job scheduled for retry",
		"job_id", job.ID,
		"worker_id", w.id,
		"retry_count", requeued.RetryCount,
		"next_available_at", next,
		"error", procErr)
	return nil
}

// nextAvailableAt computes the wall-clock millisecond at which a job that
// has already been retried retryCount times becomes eligible again.
// The backoff doubles starting from twice the base delay and carries full
// jitter in [0, BaseDelay) to spread rival retries apart.
func (w *Worker) nextAvailableAt(retryCount int) int64 {
	baseMs := w.retry.BaseDelay.Milliseconds()
	backoff := int64(math.Pow(2, float64(retryCount+1))) * baseMs
	return w.now().UnixMilli() + backoff + w.jitter(baseMs)
}

// cryptoJitter draws a uniform value in [0, maxMillis).
func cryptoJitter(maxMillis int64) int64 {
	if maxMillis <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxMillis))
	if err != nil {
		// Fallback to no jitter if random fails
		return 0
	}
	return n.Int64()
}

func (w *Worker) record(ctx context.Context, action domain.Action, severity domain.Severity, body map[string]any) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.Log(ctx, action, severity, body); err != nil {
		w.logger.WarnContext(ctx, "failed to record worker event", "action", string(action), "error", err)
	}
}
