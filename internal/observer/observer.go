// Package observer implements the append-only event log: per-job tracing,
// windowed metrics derived on read, and passive alerting on elevated
// failure rate.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/fieldguide/internal/domain"
	"github.com/rezkam/fieldguide/internal/storage/kv"
)

// eventsTable is the sub-table holding the log, keyed (timestamp, uuid) so
// scans read events in time order.
const eventsTable = "events"

// AlertSink receives rendered alert lines. The default sink writes them to
// standard output.
type AlertSink interface {
	Alert(message string)
}

// StdoutSink prints alert lines to standard output.
type StdoutSink struct{}

// Alert implements AlertSink.
func (StdoutSink) Alert(message string) {
	fmt.Println(message)
}

// Metrics summarizes job outcomes over a time window.
// AvgProcessingTimeMs is nil when the window contains no claim-to-complete
// pair, and serializes as JSON null.
type Metrics struct {
	Submitted           int64    `json:"submitted"`
	Completed           int64    `json:"completed"`
	Failed              int64    `json:"failed"`
	FailureRate         float64  `json:"failureRate"`
	AvgProcessingTimeMs *float64 `json:"avgProcessingTimeMs"`
}

// Observer owns the event log. Events are immutable once written; metrics
// and traces are computed on read over the ordered key space.
type Observer struct {
	events    kv.Table[domain.Event]
	sink      AlertSink
	logger    *slog.Logger
	now       func() time.Time
	padWidth  int
	windowMs  int64
	threshold float64
}

// Option is a functional option for configuring Observer.
type Option func(*Observer)

// WithAlertSink routes alert lines somewhere other than standard output.
func WithAlertSink(sink AlertSink) Option {
	return func(o *Observer) {
		o.sink = sink
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		o.logger = logger
	}
}

// WithClock overrides the wall clock, for tests running on simulated time.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		o.now = now
	}
}

// WithPadWidth sets the zero-pad width of timestamps inside event keys.
func WithPadWidth(width int) Option {
	return func(o *Observer) {
		o.padWidth = width
	}
}

// WithAlertPolicy sets the window and failure-rate threshold used when a
// job-failed event triggers evaluation.
func WithAlertPolicy(windowMs int64, threshold float64) Option {
	return func(o *Observer) {
		o.windowMs = windowMs
		o.threshold = threshold
	}
}

// New creates an observer over store with the given options.
func New(store kv.Store, opts ...Option) *Observer {
	o := &Observer{
		events:    kv.NewTable[domain.Event](store, eventsTable),
		sink:      StdoutSink{},
		logger:    slog.Default(),
		now:       time.Now,
		padWidth:  kv.DefaultTimeKeyWidth,
		windowMs:  3 * 60 * 60 * 1000, // 3 hours
		threshold: 0.5,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Log appends one event to the log. Every job-failed event additionally
// evaluates the failure rate over the default window and may emit an alert
// through the sink; alerting never fails the append.
func (o *Observer) Log(ctx context.Context, action domain.Action, severity domain.Severity, body map[string]any) error {
	if body == nil {
		body = map[string]any{}
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Timestamp: o.now().UnixMilli(),
		Severity:  severity,
		Action:    action,
		Body:      body,
	}

	key := kv.TimeKey(event.Timestamp, event.ID, o.padWidth)
	if err := o.events.Put(ctx, key, &event); err != nil {
		return fmt.Errorf("append event %s: %w", action, err)
	}

	if action == domain.ActionJobFailed {
		o.evaluateFailureRate(ctx)
	}
	return nil
}

// Trace returns every event whose body references jobID, sorted by
// timestamp ascending. The log is scanned in full; see Metrics for the
// bounded variant.
func (o *Observer) Trace(ctx context.Context, jobID string) ([]domain.Event, error) {
	records, err := o.events.Scan(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	var events []domain.Event
	for _, r := range records {
		if id, ok := r.Value.JobID(); ok && id == jobID {
			events = append(events, r.Value)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events, nil
}

// Metrics computes counters over events with timestamp >= now - windowMs.
// The scan starts at the key prefix for the window's lower bound, so older
// events are never read.
//
// failureRate divides failures by terminated work (completed + failed), not
// by submissions: a submission may belong to work that has not terminated
// yet. The average processing time pairs each job-completed with the most
// recent job-claimed for the same job inside the window.
func (o *Observer) Metrics(ctx context.Context, windowMs int64) (Metrics, error) {
	start := kv.TimePrefix(o.now().UnixMilli()-windowMs, o.padWidth)
	records, err := o.events.Scan(ctx, start, 0)
	if err != nil {
		return Metrics{}, fmt.Errorf("scan events: %w", err)
	}

	var m Metrics
	claimedAt := make(map[string]int64)
	var durations []int64

	for _, r := range records {
		event := r.Value
		jobID, _ := event.JobID()

		switch event.Action {
		case domain.ActionJobSubmitted:
			m.Submitted++
		case domain.ActionJobClaimed:
			claimedAt[jobID] = event.Timestamp
		case domain.ActionJobCompleted:
			m.Completed++
			if claimed, ok := claimedAt[jobID]; ok {
				durations = append(durations, event.Timestamp-claimed)
			}
		case domain.ActionJobFailed:
			m.Failed++
		}
	}

	if terminated := m.Completed + m.Failed; terminated > 0 {
		m.FailureRate = float64(m.Failed) / float64(terminated)
	}
	if len(durations) > 0 {
		var sum int64
		for _, d := range durations {
			sum += d
		}
		avg := float64(sum) / float64(len(durations))
		m.AvgProcessingTimeMs = &avg
	}
	return m, nil
}

// DefaultWindowMs returns the window used for alert evaluation and for
// metrics requests that do not specify one.
func (o *Observer) DefaultWindowMs() int64 {
	return o.windowMs
}

func (o *Observer) evaluateFailureRate(ctx context.Context) {
	m, err := o.Metrics(ctx, o.windowMs)
	if err != nil {
		o.logger.WarnContext(ctx, "failed to evaluate failure rate", "error", err)
		return
	}
	if m.FailureRate > o.threshold {
		total := m.Completed + m.Failed
		o.sink.Alert(fmt.Sprintf("ALERT: High failure rate detected: %.1f%% (%d/%d jobs failed)",
			m.FailureRate*100, m.Failed, total))
	}
}
