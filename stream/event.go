// Package stream fans job lifecycle events out to in-process subscribers.
// A Broker is registered as an extension; callers that run the worker in
// the same process subscribe to a job, a user or every event, and can
// block until a job reaches a terminal state.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued    EventType = "job.enqueued"
	EventJobStarted     EventType = "job.started"
	EventJobCompleted   EventType = "job.completed"
	EventJobFailed      EventType = "job.failed"
	EventJobRetrying    EventType = "job.retrying"
	EventJobCancelled   EventType = "job.cancelled"
	EventLedgerRefunded EventType = "ledger.refunded"
)

// Terminal reports whether the event ends the job's lifecycle.
func (t EventType) Terminal() bool {
	switch t {
	case EventJobCompleted, EventJobFailed, EventJobCancelled:
		return true
	default:
		return false
	}
}

// Event is the envelope sent to subscribers.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the job topic this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload, a JobEventData.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for every event.
type JobEventData struct {
	JobID     string          `json:"job_id"`
	UserID    string          `json:"user_id,omitempty"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Amount    int64           `json:"amount,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// JobData decodes the event payload.
func (e *Event) JobData() (JobEventData, error) {
	var d JobEventData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}
