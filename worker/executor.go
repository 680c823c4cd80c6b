// Package worker runs generation jobs: an Executor that charges, generates
// and settles a single job, and a Worker that pulls jobs from the queue
// with concurrent dequeue loops, renews their leases and sweeps stale ones.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/backoff"
	"github.com/xraph/genqueue/generate"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/ledger"
	"github.com/xraph/genqueue/middleware"
	"github.com/xraph/genqueue/queue"
)

// Executor runs one dequeued job to its next state: debit, generation
// through the middleware chain, then completion, refund-and-retry or
// refund-and-fail.
type Executor struct {
	manager     *queue.Manager
	coordinator *ledger.Coordinator
	backend     generate.Backend
	backoff     backoff.Strategy
	mw          middleware.Middleware
	logger      *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. bo spaces
// out retries of a failed attempt; nil retries immediately.
func NewExecutor(
	manager *queue.Manager,
	coordinator *ledger.Coordinator,
	backend generate.Backend,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.None{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		manager:     manager,
		coordinator: coordinator,
		backend:     backend,
		backoff:     bo,
		mw:          middleware.Chain(mws...),
		logger:      logger,
	}
}

// Process settles a job the caller has moved to processing. Job-level
// outcomes (insufficient balance, backend errors, cancellation) are
// recorded on the job and return nil. A non-nil error means the job
// could not be settled because the store or ledger is unavailable; the
// job has been put back in the queue when that was possible.
//
// Bookkeeping writes ignore cancellation of ctx so that a job interrupted
// by shutdown is still refunded and moved out of processing.
func (e *Executor) Process(ctx context.Context, j *job.Job) error {
	bg := context.WithoutCancel(ctx)

	req, err := job.DecodeRequest(j.Payload)
	if err != nil {
		return e.fail(bg, j, err.Error(), false)
	}

	amount, err := e.coordinator.Debit(bg, j)
	switch {
	case errors.Is(err, genqueue.ErrInsufficientBalance):
		e.logger.Info("insufficient balance, failing job",
			slog.String("job_id", j.ID.String()),
			slog.String("user_id", req.UserID),
			slog.Int64("cost", e.coordinator.Cost(req)),
		)
		return e.fail(bg, j, fmt.Sprintf("insufficient balance: %d bricks required", e.coordinator.Cost(req)), false)
	case err != nil:
		if _, reqErr := e.manager.Requeue(bg, j.ID); reqErr != nil {
			e.logger.Error("failed to requeue job after ledger error",
				slog.String("job_id", j.ID.String()),
				slog.String("error", reqErr.Error()),
			)
		}
		return fmt.Errorf("genqueue/worker: debit job %s: %w", j.ID, err)
	}

	// j.Cost stays zero unless the record carries the debit too.
	recorded, err := e.manager.SetCost(bg, j.ID, j.WorkerID, amount)
	switch {
	case err != nil:
		e.logger.Warn("failed to record job cost",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	case !recorded:
		e.logger.Warn("job lease lost before generation",
			slog.String("job_id", j.ID.String()),
		)
		e.coordinator.Refund(bg, j, amount)
		return nil
	default:
		j.Cost = amount
	}

	var res *generate.Result
	genErr := e.mw(ctx, j, func(ctx context.Context) error {
		r, gErr := e.backend.Generate(ctx, req)
		if gErr != nil {
			return gErr
		}
		res = r
		return nil
	})

	var encoded json.RawMessage
	switch {
	case genErr == nil && res == nil:
		genErr = errors.New("backend returned no result")
	case genErr == nil:
		encoded, genErr = res.Encode()
	}

	if !e.stillOwned(bg, j) {
		e.refund(bg, j, amount)
		return nil
	}

	if genErr != nil && ctx.Err() != nil {
		// Interrupted by shutdown: the attempt does not count.
		if !e.refund(bg, j, amount) {
			return nil
		}
		if _, err := e.manager.Requeue(bg, j.ID); err != nil {
			return fmt.Errorf("genqueue/worker: requeue interrupted job %s: %w", j.ID, err)
		}
		e.logger.Warn("generation interrupted, job requeued", slog.String("job_id", j.ID.String()))
		return nil
	}
	if genErr != nil {
		return e.handleFailure(ctx, j, amount, genErr)
	}
	return e.handleSuccess(bg, j, amount, encoded)
}

// stillOwned re-reads the job after generation. It reports false when the
// output must be discarded because the job was cancelled, reclaimed or
// handed to another worker. Refunds are left to refund, which settles
// ownership of the cost atomically.
func (e *Executor) stillOwned(ctx context.Context, j *job.Job) bool {
	cur, err := e.manager.GetStatus(ctx, j.ID)
	switch {
	case errors.Is(err, genqueue.ErrJobNotFound):
		e.logger.Warn("job record vanished during generation", slog.String("job_id", j.ID.String()))
		return false
	case err != nil:
		// Let the status write decide; it fails the same way if the store
		// is still down.
		e.logger.Warn("failed to re-read job status",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return true
	case cur.Status == job.StatusCancelled:
		e.logger.Info("job cancelled during generation, discarding output",
			slog.String("job_id", j.ID.String()),
		)
		return false
	case cur.Status != job.StatusProcessing || cur.WorkerID.String() != j.WorkerID.String():
		e.logger.Warn("job lease lost during generation, discarding output",
			slog.String("job_id", j.ID.String()),
			slog.String("status", string(cur.Status)),
		)
		return false
	}
	return true
}

// handleSuccess marks the job completed. The debit stands.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, amount int64, result json.RawMessage) error {
	ok, err := e.manager.UpdateStatus(ctx, j.ID, job.StatusCompleted, job.Update{Result: result})
	switch {
	case errors.Is(err, genqueue.ErrInvalidState):
		// Cancelled between the status check and the write.
		e.refund(ctx, j, amount)
		return nil
	case err != nil:
		e.logger.Error("failed to mark job completed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("genqueue/worker: complete job %s: %w", j.ID, err)
	case !ok:
		e.refund(ctx, j, amount)
		return nil
	}
	return nil
}

// handleFailure refunds the attempt, then retries while attempts remain
// and fails the job terminally once they are spent.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, amount int64, genErr error) error {
	bg := context.WithoutCancel(ctx)
	if !e.refund(bg, j, amount) {
		e.logger.Warn("job not settled by this worker",
			slog.String("job_id", j.ID.String()),
			slog.String("error", genErr.Error()),
		)
		return nil
	}

	if j.Attempts+1 >= j.MaxAttempts {
		e.logger.Warn("job failed after exhausting attempts",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempts", j.Attempts+1),
			slog.String("error", genErr.Error()),
		)
		return e.fail(bg, j, genErr.Error(), true)
	}

	// Shutdown cuts the pause short; the job is still requeued below.
	_ = backoff.Sleep(ctx, e.backoff, j.Attempts+1) //nolint:errcheck // see above

	ok, err := e.manager.Retry(bg, j.ID)
	if err != nil {
		e.logger.Error("failed to retry job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("genqueue/worker: retry job %s: %w", j.ID, err)
	}
	if !ok {
		e.logger.Warn("job not retried", slog.String("job_id", j.ID.String()))
		return nil
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.Int("attempt", j.Attempts+1),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.String("error", genErr.Error()),
	)
	return nil
}

// fail moves the job to failed with msg. countAttempt is false for
// failures that never reached the backend.
func (e *Executor) fail(ctx context.Context, j *job.Job, msg string, countAttempt bool) error {
	_, err := e.manager.UpdateStatus(ctx, j.ID, job.StatusFailed, job.Update{
		Error:        msg,
		CountAttempt: countAttempt,
	})
	if err != nil && !errors.Is(err, genqueue.ErrInvalidState) {
		e.logger.Error("failed to mark job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("genqueue/worker: fail job %s: %w", j.ID, err)
	}
	return nil
}

// refund credits back the attempt's cost. A cost recorded on the job is
// claimed from the record first, so the lease sweep and this worker never
// both refund it. It returns false when the job has passed out of this
// worker's hands and must not be settled further.
func (e *Executor) refund(ctx context.Context, j *job.Job, amount int64) bool {
	if amount <= 0 {
		return true
	}
	if j.Cost == 0 {
		// The record never carried the cost; nothing else can refund it.
		e.coordinator.Refund(ctx, j, amount)
		return true
	}

	claimed, owned, err := e.manager.ClaimRefund(ctx, j.ID, j.WorkerID)
	switch {
	case errors.Is(err, genqueue.ErrJobNotFound):
		// The record is gone and the sweep cannot see the cost.
		claimed, owned = j.Cost, true
	case err != nil:
		// The cost stays on the record and the lease sweep settles it.
		e.logger.Error("failed to claim refund, leaving job to the lease sweep",
			slog.String("job_id", j.ID.String()),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return false
	}

	j.Cost = 0
	e.coordinator.Refund(ctx, j, claimed)
	return owned
}
