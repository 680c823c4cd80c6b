package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/genqueue/cluster"
	"github.com/xraph/genqueue/id"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWorkerRegistry(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Now()}
	s := New(WithClock(c.Now))
	ctx := context.Background()

	first := &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerActive, CreatedAt: c.Now()}
	second := &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerActive, CreatedAt: c.Now().Add(time.Second)}
	_ = s.RegisterWorker(ctx, second, time.Minute)
	_ = s.RegisterWorker(ctx, first, 10*time.Second)

	workers, _ := s.ListWorkers(ctx)
	if len(workers) != 2 || workers[0].ID.String() != first.ID.String() {
		t.Fatalf("ListWorkers = %+v, want creation order", workers)
	}

	c.Advance(20 * time.Second)
	workers, _ = s.ListWorkers(ctx)
	if len(workers) != 1 || workers[0].ID.String() != second.ID.String() {
		t.Fatalf("lapsed registration still listed: %+v", workers)
	}

	_ = s.DeregisterWorker(ctx, second.ID)
	if workers, _ = s.ListWorkers(ctx); len(workers) != 0 {
		t.Fatalf("ListWorkers after deregister = %d", len(workers))
	}
}

func TestLeadership(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Now()}
	s := New(WithClock(c.Now))
	ctx := context.Background()
	a, b := id.NewWorkerID(), id.NewWorkerID()

	if leader, _ := s.Leader(ctx); !leader.IsNil() {
		t.Fatalf("unexpected leader %s", leader)
	}
	if ok, _ := s.AcquireLeadership(ctx, a, time.Minute); !ok {
		t.Fatal("a should acquire free leadership")
	}
	if ok, _ := s.AcquireLeadership(ctx, b, time.Minute); ok {
		t.Fatal("b must not steal held leadership")
	}

	// Renewal by the holder extends the term.
	c.Advance(50 * time.Second)
	if ok, _ := s.AcquireLeadership(ctx, a, time.Minute); !ok {
		t.Fatal("holder should renew")
	}
	c.Advance(50 * time.Second)
	if ok, _ := s.AcquireLeadership(ctx, b, time.Minute); ok {
		t.Fatal("renewed leadership expired early")
	}

	_ = s.RegisterWorker(ctx, &cluster.Worker{ID: a}, time.Hour)
	workers, _ := s.ListWorkers(ctx)
	if len(workers) != 1 || !workers[0].IsLeader {
		t.Fatalf("leader not flagged: %+v", workers)
	}

	// Releasing by a non-holder is a no-op.
	_ = s.ReleaseLeadership(ctx, b)
	if leader, _ := s.Leader(ctx); leader.String() != a.String() {
		t.Fatalf("Leader = %s, want %s", leader, a)
	}
	_ = s.ReleaseLeadership(ctx, a)
	if ok, _ := s.AcquireLeadership(ctx, b, time.Minute); !ok {
		t.Fatal("b should acquire released leadership")
	}

	c.Advance(2 * time.Minute)
	if leader, _ := s.Leader(ctx); !leader.IsNil() {
		t.Fatalf("expired leadership still reported: %s", leader)
	}
}
