package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/genqueue/job"
)

// entry pairs a hook with the name of the extension that provided it.
type entry[H any] struct {
	name string
	hook H
}

// add appends e to list when e implements hook type H.
func add[H any](list []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry fans lifecycle events out to extensions. Hooks are sorted by
// type at registration so an emit only visits extensions that implement
// it. Hook errors and panics are logged and never reach the caller.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued    []entry[JobEnqueued]
	jobStarted     []entry[JobStarted]
	jobCompleted   []entry[JobCompleted]
	jobFailed      []entry[JobFailed]
	jobRetrying    []entry[JobRetrying]
	jobCancelled   []entry[JobCancelled]
	ledgerRefunded []entry[LedgerRefunded]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order. Register is not safe to call once events are flowing.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.jobEnqueued = add(r.jobEnqueued, e)
	r.jobStarted = add(r.jobStarted, e)
	r.jobCompleted = add(r.jobCompleted, e)
	r.jobFailed = add(r.jobFailed, e)
	r.jobRetrying = add(r.jobRetrying, e)
	r.jobCancelled = add(r.jobCancelled, e)
	r.ledgerRefunded = add(r.ledgerRefunded, e)
	r.shutdown = add(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job events
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies JobEnqueued hooks.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	emit(r, "OnJobEnqueued", j, r.jobEnqueued, func(h JobEnqueued) error {
		return h.OnJobEnqueued(ctx, j)
	})
}

// EmitJobStarted notifies JobStarted hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, "OnJobStarted", j, r.jobStarted, func(h JobStarted) error {
		return h.OnJobStarted(ctx, j)
	})
}

// EmitJobCompleted notifies JobCompleted hooks.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, "OnJobCompleted", j, r.jobCompleted, func(h JobCompleted) error {
		return h.OnJobCompleted(ctx, j, elapsed)
	})
}

// EmitJobFailed notifies JobFailed hooks.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	emit(r, "OnJobFailed", j, r.jobFailed, func(h JobFailed) error {
		return h.OnJobFailed(ctx, j, jobErr)
	})
}

// EmitJobRetrying notifies JobRetrying hooks.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int) {
	emit(r, "OnJobRetrying", j, r.jobRetrying, func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, attempt)
	})
}

// EmitJobCancelled notifies JobCancelled hooks.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	emit(r, "OnJobCancelled", j, r.jobCancelled, func(h JobCancelled) error {
		return h.OnJobCancelled(ctx, j)
	})
}

// ──────────────────────────────────────────────────
// Ledger events
// ──────────────────────────────────────────────────

// EmitLedgerRefunded notifies LedgerRefunded hooks.
func (r *Registry) EmitLedgerRefunded(ctx context.Context, j *job.Job, amount int64) {
	emit(r, "OnLedgerRefunded", j, r.ledgerRefunded, func(h LedgerRefunded) error {
		return h.OnLedgerRefunded(ctx, j, amount)
	})
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", nil, r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// emit calls fn for every entry, isolating each hook from the others.
func emit[H any](r *Registry, hook string, j *job.Job, entries []entry[H], fn func(H) error) {
	for _, e := range entries {
		if err := call(e.hook, fn); err != nil {
			attrs := []any{
				slog.String("hook", hook),
				slog.String("extension", e.name),
				slog.String("error", err.Error()),
			}
			if j != nil {
				attrs = append(attrs, slog.String("job_id", j.ID.String()))
			}
			r.logger.Warn("extension hook error", attrs...)
		}
	}
}

func call[H any](h H, fn func(H) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return fn(h)
}
