package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/genqueue/backoff"
	"github.com/xraph/genqueue/generate"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/ledger"
	memledger "github.com/xraph/genqueue/ledger/memory"
	"github.com/xraph/genqueue/middleware"
	"github.com/xraph/genqueue/queue"
	"github.com/xraph/genqueue/store/memory"
	"github.com/xraph/genqueue/worker"
)

const testUser = "u1"

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Now()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	manager     *queue.Manager
	ledger      ledger.Ledger
	coordinator *ledger.Coordinator
	clock       *clock
}

func newHarness(t *testing.T, l ledger.Ledger) *harness {
	t.Helper()
	if l == nil {
		l = memledger.New()
	}
	c := newClock()
	return &harness{
		manager: queue.NewManager(memory.New(),
			queue.WithClock(c.Now),
			queue.WithLeaseTTL(time.Minute),
		),
		ledger:      l,
		coordinator: ledger.NewCoordinator(l),
		clock:       c,
	}
}

func (h *harness) executor(b generate.Backend, mws ...middleware.Middleware) *worker.Executor {
	return worker.NewExecutor(h.manager, h.coordinator, b, backoff.None{}, slog.Default(), mws...)
}

func (h *harness) credit(t *testing.T, amount int64) {
	t.Helper()
	if _, err := h.ledger.Credit(context.Background(), testUser, amount, "", "top up"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func (h *harness) enqueue(t *testing.T, prompt string, opts ...job.Option) id.JobID {
	t.Helper()
	jobID, err := h.manager.EnqueueRequest(context.Background(),
		job.GenerationRequest{Prompt: prompt, UserID: testUser}, opts...)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func (h *harness) dequeue(t *testing.T) *job.Job {
	t.Helper()
	j, err := h.manager.DequeueAs(context.Background(), id.NewWorkerID(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if j == nil {
		t.Fatal("Dequeue returned no job")
	}
	return j
}

func (h *harness) status(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := h.manager.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return j
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), testUser)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

// txns counts the debits and refunds recorded against jobID.
func (h *harness) txns(t *testing.T, jobID id.JobID) (debits, refunds int) {
	t.Helper()
	all, err := h.ledger.Transactions(context.Background(), testUser, 0)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	for _, tx := range all {
		if tx.Ref != jobID.String() {
			continue
		}
		switch tx.Type {
		case ledger.TypeDebit:
			debits++
		case ledger.TypeCredit:
			if strings.HasPrefix(tx.Description, "refund") {
				refunds++
			}
		}
	}
	return debits, refunds
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func succeed(text string) generate.Backend {
	return generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
		return &generate.Result{Text: text, Model: "test"}, nil
	})
}

var errBackend = errors.New("backend exploded")

func alwaysFail() generate.Backend {
	return generate.BackendFunc(func(context.Context, job.GenerationRequest) (*generate.Result, error) {
		return nil, errBackend
	})
}

// downLedger fails every write as an unreachable ledger would.
type downLedger struct{ ledger.Ledger }

var errLedgerDown = errors.New("dial tcp: connection refused")

func (downLedger) Debit(context.Context, string, int64, string, string) (*ledger.Transaction, error) {
	return nil, errLedgerDown
}

// sweepingLedger runs sweep in the middle of the first refund credit, the
// way a leader's sweep can land while a worker is settling a job.
type sweepingLedger struct {
	ledger.Ledger
	once  sync.Once
	sweep func()
}

func (l *sweepingLedger) Credit(ctx context.Context, userID string, amount int64, ref, desc string) (*ledger.Transaction, error) {
	if strings.HasPrefix(desc, "refund") && l.sweep != nil {
		l.once.Do(l.sweep)
	}
	return l.Ledger.Credit(ctx, userID, amount, ref, desc)
}
