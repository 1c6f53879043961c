package observer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/fieldguide/internal/domain"
	"github.com/rezkam/fieldguide/internal/storage/kv/sqlite"
)

type sinkStub struct {
	mu       sync.Mutex
	messages []string
}

func (s *sinkStub) Alert(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *sinkStub) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1700000000000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestObserver(t *testing.T, opts ...Option) (*Observer, *sinkStub, *testClock) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "observer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sink := &sinkStub{}
	clock := newTestClock()
	opts = append([]Option{WithAlertSink(sink), WithClock(clock.Now)}, opts...)
	return New(store, opts...), sink, clock
}

func TestLog_AppendsEvent(t *testing.T) {
	o, _, clock := newTestObserver(t)
	ctx := context.Background()

	err := o.Log(ctx, domain.ActionJobSubmitted, domain.SeverityLog, map[string]any{
		"jobId": "brown-pelican",
		"name":  "Brown Pelican",
	})
	require.NoError(t, err)

	events, err := o.Trace(ctx, "brown-pelican")
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, clock.Now().UnixMilli(), event.Timestamp)
	assert.Equal(t, domain.ActionJobSubmitted, event.Action)
	assert.Equal(t, domain.SeverityLog, event.Severity)
	assert.Equal(t, "Brown Pelican", event.Body["name"])
}

func TestTrace_FiltersAndOrders(t *testing.T) {
	o, _, clock := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, o.Log(ctx, domain.ActionJobSubmitted, domain.SeverityLog, map[string]any{"jobId": "a"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobSubmitted, domain.SeverityLog, map[string]any{"jobId": "b"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobClaimed, domain.SeverityLog, map[string]any{"jobId": "a", "workerId": "w-ab12"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionWorkerStart, domain.SeverityLog, map[string]any{"workerId": "w-ab12"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "a", "workerId": "w-ab12"}))

	events, err := o.Trace(ctx, "a")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.ActionJobSubmitted, events[0].Action)
	assert.Equal(t, domain.ActionJobClaimed, events[1].Action)
	assert.Equal(t, domain.ActionJobCompleted, events[2].Action)
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].Timestamp, events[i].Timestamp)
	}
}

func TestTrace_UnknownJob(t *testing.T) {
	o, _, _ := newTestObserver(t)

	events, err := o.Trace(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMetrics_Counts(t *testing.T) {
	o, _, clock := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, o.Log(ctx, domain.ActionJobSubmitted, domain.SeverityLog, map[string]any{"jobId": "a"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobSubmitted, domain.SeverityLog, map[string]any{"jobId": "b"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "a", "workerId": "w-1111"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobFailed, domain.SeverityError, map[string]any{"jobId": "b", "workerId": "w-1111"}))

	m, err := o.Metrics(ctx, 60_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Submitted)
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, int64(1), m.Failed)
	assert.InDelta(t, 0.5, m.FailureRate, 1e-9)
}

func TestMetrics_EmptyWindow(t *testing.T) {
	o, _, _ := newTestObserver(t)

	m, err := o.Metrics(context.Background(), 60_000)
	require.NoError(t, err)
	assert.Zero(t, m.Submitted)
	assert.Zero(t, m.Completed)
	assert.Zero(t, m.Failed)
	assert.Zero(t, m.FailureRate, "zero denominator yields zero rate")
	assert.Nil(t, m.AvgProcessingTimeMs)
}

func TestMetrics_AverageProcessingTime(t *testing.T) {
	o, _, clock := newTestObserver(t)
	ctx := context.Background()

	// Job a: claimed, completed 200ms later. Job b: claimed, completed
	// 400ms later. Average is 300ms.
	require.NoError(t, o.Log(ctx, domain.ActionJobClaimed, domain.SeverityLog, map[string]any{"jobId": "a"}))
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "a"}))

	require.NoError(t, o.Log(ctx, domain.ActionJobClaimed, domain.SeverityLog, map[string]any{"jobId": "b"}))
	clock.Advance(400 * time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "b"}))

	m, err := o.Metrics(ctx, 60_000)
	require.NoError(t, err)
	require.NotNil(t, m.AvgProcessingTimeMs)
	assert.InDelta(t, 300.0, *m.AvgProcessingTimeMs, 1e-9)
}

func TestMetrics_PairRequiresBothEventsInWindow(t *testing.T) {
	o, _, clock := newTestObserver(t)
	ctx := context.Background()

	// Claim happens well before the window opens; the completion alone
	// contributes no processing-time sample.
	require.NoError(t, o.Log(ctx, domain.ActionJobClaimed, domain.SeverityLog, map[string]any{"jobId": "a"}))
	clock.Advance(10 * time.Minute)
	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "a"}))

	m, err := o.Metrics(ctx, 60_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Completed)
	assert.Nil(t, m.AvgProcessingTimeMs)
}

func TestMetrics_ExcludesEventsBeforeWindow(t *testing.T) {
	o, _, clock := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, o.Log(ctx, domain.ActionJobFailed, domain.SeverityError, map[string]any{"jobId": "old"}))
	clock.Advance(10 * time.Minute)
	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "new"}))

	m, err := o.Metrics(ctx, 60_000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Failed)
	assert.Equal(t, int64(1), m.Completed)
	assert.Zero(t, m.FailureRate)
}

func TestAlert_FiresAboveThreshold(t *testing.T) {
	o, sink, clock := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "a"}))
	clock.Advance(time.Millisecond)

	// One of two terminated jobs failed: rate 0.5 is not above the 0.5
	// threshold, so no alert yet.
	require.NoError(t, o.Log(ctx, domain.ActionJobFailed, domain.SeverityError, map[string]any{"jobId": "b"}))
	assert.Empty(t, sink.all())

	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobFailed, domain.SeverityError, map[string]any{"jobId": "c"}))

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "ALERT: High failure rate detected: 66.7% (2/3 jobs failed)", alerts[0])
}

func TestAlert_OnlyEvaluatedOnFailure(t *testing.T) {
	o, sink, clock := newTestObserver(t, WithAlertPolicy(60_000, 0.0))
	ctx := context.Background()

	// Even with a zero threshold, non-failure events never alert.
	require.NoError(t, o.Log(ctx, domain.ActionJobCompleted, domain.SeverityLog, map[string]any{"jobId": "a"}))
	clock.Advance(time.Millisecond)
	require.NoError(t, o.Log(ctx, domain.ActionJobSubmitted, domain.SeverityLog, map[string]any{"jobId": "b"}))
	assert.Empty(t, sink.all())

	require.NoError(t, o.Log(ctx, domain.ActionJobFailed, domain.SeverityError, map[string]any{"jobId": "b"}))
	assert.Len(t, sink.all(), 1)
}

func TestDefaultWindowMs(t *testing.T) {
	o, _, _ := newTestObserver(t)
	assert.Equal(t, int64(3*60*60*1000), o.DefaultWindowMs())

	o2, _, _ := newTestObserver(t, WithAlertPolicy(1234, 0.9))
	assert.Equal(t, int64(1234), o2.DefaultWindowMs())
}
