// Package broker adapts Redis into the priority-queue-with-result-store
// contract: three priority queues with late acknowledgment and a
// per-task result key.
package broker

import "time"

// Task states as seen by clients. Pending doubles as "unknown": a task
// the result store has no record of reads as PENDING.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateRetry   = "RETRY"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
)

// Queue names, drained preferentially in this order.
const (
	QueueHigh   = "gpu-high"
	QueueNormal = "gpu-normal"
	QueueLow    = "gpu-low"
)

// Queues lists the priority queues from most to least urgent.
func Queues() []string {
	return []string{QueueHigh, QueueNormal, QueueLow}
}

// QueueForPriority maps a priority class to its queue name.
func QueueForPriority(priority string) string {
	return "gpu-" + priority
}

// NumericPriority maps a priority class to the wire-level priority.
func NumericPriority(priority string) int {
	switch priority {
	case "high":
		return 9
	case "low":
		return 1
	default:
		return 5
	}
}

// JobEnvelope is the message published to a priority queue.
type JobEnvelope struct {
	TaskID      string         `json:"task_id"`
	Model       string         `json:"model"`
	Input       map[string]any `json:"input"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Queue       string         `json:"queue"`
	Priority    int            `json:"priority"`
	Attempt     int            `json:"attempt"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// ResultEnvelope is the terminal payload a worker writes for a task.
// Result never contains raw binary payloads; artifacts are
// externalized to blob storage first.
type ResultEnvelope struct {
	TaskID string             `json:"task_id"`
	Status string             `json:"status"`
	Timing map[string]float64 `json:"timing,omitempty"`
	Result map[string]any     `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// TaskRecord is the authoritative state held per task in the result
// store. Once the state is terminal the record is immutable.
type TaskRecord struct {
	State     string          `json:"state"`
	Envelope  *ResultEnvelope `json:"envelope,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Terminal reports whether the record's state is final.
func (r *TaskRecord) Terminal() bool {
	return r.State == StateSuccess || r.State == StateFailure
}
