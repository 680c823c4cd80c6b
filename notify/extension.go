package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobEnqueued    = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobCompleted   = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobRetrying    = (*Extension)(nil)
	_ ext.JobCancelled   = (*Extension)(nil)
	_ ext.LedgerRefunded = (*Extension)(nil)
)

// Publisher delivers one encoded event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Event is the envelope published for every lifecycle hook.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Extension bridges lifecycle events to a Publisher.
type Extension struct {
	publisher Publisher
	enabled   map[string]bool        // nil = all enabled
	payloads  map[string]PayloadFunc // custom payload builders
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Extension that emits lifecycle events through p.
func New(p Publisher, opts ...Option) *Extension {
	h := &Extension{publisher: p, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "notify" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (h *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobEnqueued, newJobPayload(j))
}

// OnJobStarted implements ext.JobStarted.
func (h *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobStarted, newJobPayload(j))
}

// OnJobCompleted implements ext.JobCompleted.
func (h *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.send(ctx, EventJobCompleted, &jobCompletedPayload{
		jobPayload: *newJobPayload(j),
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnJobFailed implements ext.JobFailed.
func (h *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return h.send(ctx, EventJobFailed, &jobFailedPayload{
		jobPayload: *newJobPayload(j),
		Error:      jobErr.Error(),
	})
}

// OnJobRetrying implements ext.JobRetrying.
func (h *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error {
	return h.send(ctx, EventJobRetrying, &jobRetryingPayload{
		jobPayload: *newJobPayload(j),
		Attempt:    attempt,
	})
}

// OnJobCancelled implements ext.JobCancelled.
func (h *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobCancelled, newJobPayload(j))
}

// OnLedgerRefunded implements ext.LedgerRefunded.
func (h *Extension) OnLedgerRefunded(ctx context.Context, j *job.Job, amount int64) error {
	return h.send(ctx, EventLedgerRefunded, &refundPayload{
		jobPayload: *newJobPayload(j),
		Amount:     amount,
	})
}

// ── Internal helpers ────────────────────────────────

// send publishes an event if the event type is enabled.
func (h *Extension) send(ctx context.Context, eventType string, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	body, err := json.Marshal(&Event{Type: eventType, OccurredAt: h.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("genqueue/notify: encode %s: %w", eventType, err)
	}
	if err := h.publisher.Publish(ctx, eventType, body); err != nil {
		return fmt.Errorf("genqueue/notify: publish %s: %w", eventType, err)
	}
	return nil
}

// ── Default payload types ───────────────────────────

type jobPayload struct {
	JobID    string `json:"job_id"`
	UserID   string `json:"user_id,omitempty"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Attempts int    `json:"attempts"`
}

func newJobPayload(j *job.Job) *jobPayload {
	p := &jobPayload{
		JobID:    j.ID.String(),
		Status:   string(j.Status),
		Priority: string(j.Priority),
		Attempts: j.Attempts,
	}
	if req, err := job.DecodeRequest(j.Payload); err == nil {
		p.UserID = req.UserID
	}
	return p
}

type jobCompletedPayload struct {
	jobPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type jobFailedPayload struct {
	jobPayload
	Error string `json:"error"`
}

type jobRetryingPayload struct {
	jobPayload
	Attempt int `json:"attempt"`
}

type refundPayload struct {
	jobPayload
	Amount int64 `json:"amount"`
}
