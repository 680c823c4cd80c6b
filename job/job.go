package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting in a lane to be picked up.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker holds the job and is executing it.
	StatusProcessing Status = "processing"
	// StatusCompleted means generation succeeded and Result is set.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed terminally and ErrorMessage is set.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled by an external request.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is completed, failed or cancelled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders jobs for ListActive and, when priority lanes are enabled,
// for dequeue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists every priority from highest to lowest.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority converts a string into a Priority. The empty string maps
// to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("job: unknown priority %q", s)
}

// Rank returns 0 for high, 1 for normal and 2 for low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Job is one unit of generation work and its state.
type Job struct {
	ID       id.JobID        `json:"id"`
	Status   Status          `json:"status"`
	Priority Priority        `json:"priority"`
	Payload  json.RawMessage `json:"payload"`

	Attempts    int   `json:"attempts"`
	MaxAttempts int   `json:"max_attempts"`
	Version     int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RetriedAt   *time.Time `json:"retried_at,omitempty"`

	ErrorMessage string          `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`

	// WorkerID and LeaseExpiresAt describe the processing lease.
	WorkerID       id.WorkerID `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	// Cost is the number of bricks debited for the current attempt. It is
	// zero whenever no debit stands.
	Cost int64 `json:"cost,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
}

// Lane returns the ordering lane the job is pushed to. With priority lanes
// disabled every job shares the "default" lane.
func (j *Job) Lane(priorityLanes bool) string {
	if !priorityLanes {
		return DefaultLane
	}
	return string(j.Priority)
}

// DefaultLane is the single lane used when priority lanes are disabled.
const DefaultLane = "default"

// Lanes returns the lanes a dequeue polls, in order.
func Lanes(priorityLanes bool) []string {
	if !priorityLanes {
		return []string{DefaultLane}
	}
	lanes := make([]string, len(Priorities))
	for i, p := range Priorities {
		lanes[i] = string(p)
	}
	return lanes
}

// Validate checks the per-status field invariants: Result is set iff the
// job is completed and ErrorMessage is set iff it failed.
func (j *Job) Validate() error {
	if !j.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", genqueue.ErrInvalidState, j.Status)
	}
	if j.Attempts > j.MaxAttempts {
		return fmt.Errorf("%w: attempts %d > max %d", genqueue.ErrMaxAttemptsExceeded, j.Attempts, j.MaxAttempts)
	}
	if (len(j.Result) > 0) != (j.Status == StatusCompleted) {
		return fmt.Errorf("%w: result must be set iff completed (status %s)", genqueue.ErrInvalidState, j.Status)
	}
	if (j.ErrorMessage != "") != (j.Status == StatusFailed) {
		return fmt.Errorf("%w: error must be set iff failed (status %s)", genqueue.ErrInvalidState, j.Status)
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = cloneBytes(j.Payload)
	cp.Result = cloneBytes(j.Result)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.FailedAt = cloneTime(j.FailedAt)
	cp.CancelledAt = cloneTime(j.CancelledAt)
	cp.RetriedAt = cloneTime(j.RetriedAt)
	cp.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	if j.Meta != nil {
		cp.Meta = make(map[string]string, len(j.Meta))
		for k, v := range j.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// Update carries the extra values merged into a job by a status change.
type Update struct {
	// Result is the generated artifact reference. Required for completed.
	Result json.RawMessage
	// Error is the failure description. Required for failed.
	Error string
	// Meta is merged key-by-key into Job.Meta.
	Meta map[string]string
	// CountAttempt records the current execution as a spent attempt,
	// bounded by MaxAttempts.
	CountAttempt bool
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
