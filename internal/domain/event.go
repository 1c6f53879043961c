package domain

// Severity classifies an observer event.
// Value object - immutable string enum.
type Severity string

const (
	SeverityLog     Severity = "log"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Action is the enumerated kind of an observer event.
// Value object - immutable string enum.
type Action string

const (
	ActionJobSubmitted Action = "job-submitted"
	ActionJobDuplicate Action = "job-duplicate"
	ActionJobClaimed   Action = "job-claimed"
	ActionJobCompleted Action = "job-completed"
	ActionJobRetry     Action = "job-retry"
	ActionJobFailed    Action = "job-failed"
	ActionAPIRequest   Action = "api-request"
	ActionWorkerStart  Action = "worker-start"
)

// Event is one immutable record in the observer log.
//
// Body is a structured key-value bag whose shape depends on Action:
//
//	job-submitted  jobId, name
//	job-duplicate  jobId, name, currentStatus
//	job-claimed    jobId, workerId
//	job-completed  jobId, workerId
//	job-retry      jobId, workerId, retryCount, nextAvailableAt, error
//	job-failed     jobId, workerId, retryCount, error
//	api-request    method, path, query, body
//	worker-start   workerId
type Event struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Action    Action         `json:"action"`
	Body      map[string]any `json:"body"`
}

// JobID returns the job id referenced by the event body, if any.
func (e Event) JobID() (string, bool) {
	v, ok := e.Body["jobId"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
