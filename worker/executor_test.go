package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/genqueue/generate"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	memledger "github.com/xraph/genqueue/ledger/memory"
	"github.com/xraph/genqueue/middleware"
)

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "write a haiku about queues")

	if err := h.executor(succeed("an old silent queue")).Process(context.Background(), h.dequeue(t)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
	var res generate.Result
	if err := json.Unmarshal(j.Result, &res); err != nil || res.Text != "an old silent queue" {
		t.Fatalf("result = %s (%v)", j.Result, err)
	}
	if j.Cost != 1 {
		t.Errorf("cost = %d, want 1", j.Cost)
	}

	debits, refunds := h.txns(t, jobID)
	if debits != 1 || refunds != 0 {
		t.Errorf("debits=%d refunds=%d, want 1/0", debits, refunds)
	}
	if got := h.balance(t); got != 9 {
		t.Errorf("balance = %d, want 9", got)
	}
}

func TestExecutor_FailsEveryAttempt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "doomed", job.WithMaxAttempts(3))
	exec := h.executor(alwaysFail())

	for attempt := range 3 {
		j := h.dequeue(t)
		if j.Attempts != attempt {
			t.Fatalf("attempt %d: attempts = %d", attempt, j.Attempts)
		}
		if err := exec.Process(context.Background(), j); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if j.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", j.Attempts)
	}
	if j.ErrorMessage != errBackend.Error() {
		t.Errorf("error = %q", j.ErrorMessage)
	}
	if j.Result != nil || j.Cost != 0 {
		t.Errorf("failed job kept result=%s cost=%d", j.Result, j.Cost)
	}

	debits, refunds := h.txns(t, jobID)
	if debits != 3 || refunds != 3 {
		t.Errorf("debits=%d refunds=%d, want 3/3", debits, refunds)
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}

	// Nothing left to run.
	if j, _ := h.manager.Dequeue(context.Background(), 10*time.Millisecond); j != nil {
		t.Fatalf("failed job was requeued: %+v", j)
	}
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "flaky", job.WithMaxAttempts(3))

	var calls atomic.Int32
	exec := h.executor(generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
		if calls.Add(1) == 1 {
			return nil, errBackend
		}
		return &generate.Result{Text: "ok"}, nil
	}))

	for range 2 {
		if err := exec.Process(context.Background(), h.dequeue(t)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusCompleted || j.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d, want completed/1", j.Status, j.Attempts)
	}
	debits, refunds := h.txns(t, jobID)
	if debits != 2 || refunds != 1 {
		t.Errorf("debits=%d refunds=%d, want 2/1", debits, refunds)
	}
	if got := h.balance(t); got != 9 {
		t.Errorf("balance = %d, want 9", got)
	}
}

func TestExecutor_InsufficientBalance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		credit int64
	}{
		{"no account", 0},
		{"short balance", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tt.credit > 0 {
				h.credit(t, tt.credit)
			}
			// 2000 runes is 500 tokens, five bricks.
			jobID := h.enqueue(t, strings.Repeat("x", 2000))

			var called atomic.Bool
			exec := h.executor(generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
				called.Store(true)
				return &generate.Result{Text: "x"}, nil
			}))
			if err := exec.Process(context.Background(), h.dequeue(t)); err != nil {
				t.Fatalf("Process: %v", err)
			}

			if called.Load() {
				t.Error("backend must not be called without a debit")
			}
			j := h.status(t, jobID)
			if j.Status != job.StatusFailed || j.Attempts != 0 {
				t.Fatalf("status=%s attempts=%d, want failed/0", j.Status, j.Attempts)
			}
			if !strings.Contains(j.ErrorMessage, "insufficient balance") {
				t.Errorf("error = %q", j.ErrorMessage)
			}
			if debits, _ := h.txns(t, jobID); debits != 0 {
				t.Errorf("debits = %d, want 0", debits)
			}
		})
	}
}

func TestExecutor_CancelledDuringGeneration(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "cancel me")

	exec := h.executor(generate.BackendFunc(func(ctx context.Context, _ job.GenerationRequest) (*generate.Result, error) {
		if _, err := h.manager.Cancel(ctx, jobID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
		return &generate.Result{Text: "too late"}, nil
	}))
	if err := exec.Process(context.Background(), h.dequeue(t)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}
	if j.Result != nil {
		t.Errorf("cancelled job got result %s", j.Result)
	}
	debits, refunds := h.txns(t, jobID)
	if debits != 1 || refunds != 1 {
		t.Errorf("debits=%d refunds=%d, want 1/1", debits, refunds)
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestExecutor_CancelledWhileQueued(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "never runs")

	if ok, err := h.manager.Cancel(context.Background(), jobID); err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}

	j, err := h.manager.Dequeue(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if j != nil {
		t.Fatalf("cancelled job dequeued: %s", j.ID)
	}
	if got := h.status(t, jobID).Status; got != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
}

func TestExecutor_GenerationTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "slow", job.WithMaxAttempts(1))

	exec := h.executor(generate.BackendFunc(func(ctx context.Context, _ job.GenerationRequest) (*generate.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), middleware.Timeout(slog.Default(), 20*time.Millisecond))

	if err := exec.Process(context.Background(), h.dequeue(t)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusFailed || j.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d, want failed/1", j.Status, j.Attempts)
	}
	if !strings.Contains(j.ErrorMessage, context.DeadlineExceeded.Error()) {
		t.Errorf("error = %q", j.ErrorMessage)
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestExecutor_InterruptedRequeues(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "interrupted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := h.executor(generate.BackendFunc(func(ctx context.Context, _ job.GenerationRequest) (*generate.Result, error) {
		cancel()
		return nil, ctx.Err()
	}))

	if err := exec.Process(ctx, h.dequeue(t)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusQueued || j.Attempts != 0 {
		t.Fatalf("status=%s attempts=%d, want queued/0", j.Status, j.Attempts)
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestExecutor_LedgerDownRequeues(t *testing.T) {
	t.Parallel()
	h := newHarness(t, downLedger{memledger.New()})
	jobID := h.enqueue(t, "ledger down")

	var called atomic.Bool
	exec := h.executor(generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
		called.Store(true)
		return &generate.Result{Text: "x"}, nil
	}))

	err := exec.Process(context.Background(), h.dequeue(t))
	if !errors.Is(err, errLedgerDown) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if called.Load() {
		t.Error("backend must not be called without a debit")
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusQueued || j.Attempts != 0 {
		t.Fatalf("status=%s attempts=%d, want queued/0", j.Status, j.Attempts)
	}
}

func TestExecutor_RecoversPanic(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "panics", job.WithMaxAttempts(1))

	exec := h.executor(generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
		panic("boom")
	}), middleware.Recover(slog.Default()))

	if err := exec.Process(context.Background(), h.dequeue(t)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusFailed || !strings.Contains(j.ErrorMessage, "boom") {
		t.Fatalf("status=%s error=%q", j.Status, j.ErrorMessage)
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestExecutor_LeaseLostDuringGeneration(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "outlived its lease")
	sweeper := newTestWorker(h, succeed("x"))

	// The generation outlives the lease and the sweep requeues the job
	// and refunds it while the backend is still running.
	exec := h.executor(generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
		h.clock.Advance(2 * time.Minute)
		if err := sweeper.Sweep(context.Background()); err != nil {
			t.Errorf("Sweep: %v", err)
		}
		return &generate.Result{Text: "stale"}, nil
	}))
	if err := exec.Process(context.Background(), h.dequeue(t)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	j := h.status(t, jobID)
	if j.Status != job.StatusQueued || j.Attempts != 0 || j.Result != nil {
		t.Fatalf("status=%s attempts=%d result=%s, want queued/0/none", j.Status, j.Attempts, j.Result)
	}
	debits, refunds := h.txns(t, jobID)
	if debits != 1 || refunds != 1 {
		t.Errorf("debits=%d refunds=%d, want 1/1", debits, refunds)
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestExecutor_SweepDuringRefund(t *testing.T) {
	t.Parallel()
	l := &sweepingLedger{Ledger: memledger.New()}
	h := newHarness(t, l)
	h.credit(t, 10)
	jobID := h.enqueue(t, "refunded once")

	sweeper := newTestWorker(h, succeed("x"))
	l.sweep = func() {
		h.clock.Advance(2 * time.Minute)
		if err := sweeper.Sweep(context.Background()); err != nil {
			t.Errorf("Sweep: %v", err)
		}
	}

	if err := h.executor(alwaysFail()).Process(context.Background(), h.dequeue(t)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	debits, refunds := h.txns(t, jobID)
	if debits != 1 || refunds != 1 {
		t.Fatalf("debits=%d refunds=%d, want 1/1", debits, refunds)
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	j := h.status(t, jobID)
	if j.Status != job.StatusQueued || j.Cost != 0 {
		t.Errorf("status=%s cost=%d, want queued/0", j.Status, j.Cost)
	}
}

func TestExecutor_LeaseLostBeforeDebitRecorded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.credit(t, 10)
	jobID := h.enqueue(t, "taken away")

	j := h.dequeue(t)
	// Another worker holds the job by the time the cost is recorded.
	j.WorkerID = id.NewWorkerID()

	var called atomic.Bool
	exec := h.executor(generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
		called.Store(true)
		return &generate.Result{Text: "x"}, nil
	}))
	if err := exec.Process(context.Background(), j); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if called.Load() {
		t.Error("backend ran for a job this worker does not hold")
	}
	if got := h.balance(t); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	if cur := h.status(t, jobID); cur.Cost != 0 || cur.Status != job.StatusProcessing {
		t.Errorf("status=%s cost=%d, want processing/0", cur.Status, cur.Cost)
	}
}
