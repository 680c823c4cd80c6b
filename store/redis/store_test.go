//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/cluster"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	redisstore "github.com/xraph/genqueue/store/redis"
)

// setupTestStore starts a Redis container and returns a connected Store.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	return redisstore.New(client,
		redisstore.WithLogger(slog.Default()),
		redisstore.WithNamespace("test"),
	)
}

func newJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Status:      job.StatusQueued,
		Priority:    job.PriorityHigh,
		Payload:     json.RawMessage(`{"prompt":"a ünïcode prompt","user_id":"u1","extra":[1,2,3]}`),
		MaxAttempts: 3,
		Version:     1,
		CreatedAt:   time.Now().UTC(),
		Meta:        map[string]string{"source": "test"},
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Lane tests
// ──────────────────────────────────────────────────

func TestStore_PushPop(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	low, high := id.NewJobID(), id.NewJobID()
	if err := s.PushQueue(ctx, "low", low); err != nil {
		t.Fatalf("PushQueue: %v", err)
	}
	if err := s.PushQueue(ctx, "high", high); err != nil {
		t.Fatalf("PushQueue: %v", err)
	}

	n, err := s.Length(ctx, job.Lanes(true))
	if err != nil || n != 2 {
		t.Fatalf("Length = %d, %v; want 2", n, err)
	}

	got, err := s.PopQueue(ctx, job.Lanes(true), time.Second)
	if err != nil {
		t.Fatalf("PopQueue: %v", err)
	}
	if got.String() != high.String() {
		t.Fatalf("got %s, want %s", got, high)
	}

	got, err = s.PopQueue(ctx, job.Lanes(true), 0)
	if err != nil {
		t.Fatalf("PopQueue (non-blocking): %v", err)
	}
	if got.String() != low.String() {
		t.Fatalf("got %s, want %s", got, low)
	}

	got, err = s.PopQueue(ctx, job.Lanes(true), time.Second)
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if !got.IsNil() {
		t.Fatalf("expected nil ID, got %s", got)
	}
}

func TestStore_RemoveQueued(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jid := id.NewJobID()
	_ = s.PushQueue(ctx, job.DefaultLane, jid)
	if err := s.RemoveQueued(ctx, job.DefaultLane, jid); err != nil {
		t.Fatalf("RemoveQueued: %v", err)
	}
	n, _ := s.Length(ctx, job.Lanes(false))
	if n != 0 {
		t.Fatalf("Length = %d, want 0", n)
	}
}

// ──────────────────────────────────────────────────
// Record tests
// ──────────────────────────────────────────────────

func TestStore_RecordRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJob()

	if err := s.PutRecord(ctx, j, time.Hour); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := s.GetRecord(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(got.Payload) != string(j.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, j.Payload)
	}
	if got.Priority != job.PriorityHigh || got.Status != job.StatusQueued {
		t.Errorf("unexpected record %+v", got)
	}
	if got.StartedAt != nil || got.Result != nil || !got.WorkerID.IsNil() {
		t.Errorf("optional fields should be empty: %+v", got)
	}
	if got.Meta["source"] != "test" {
		t.Errorf("meta = %v", got.Meta)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, j.CreatedAt)
	}

	if _, err := s.GetRecord(ctx, id.NewJobID()); !errors.Is(err, genqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_RecordExpires(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJob()

	if err := s.PutRecord(ctx, j, 200*time.Millisecond); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	if _, err := s.GetRecord(ctx, j.ID); !errors.Is(err, genqueue.ErrJobNotFound) {
		t.Fatalf("expected expired record, got %v", err)
	}
}

func TestStore_CompareAndPut(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJob()
	_ = s.PutRecord(ctx, j, time.Hour)

	now := time.Now().UTC()
	cp := j.Clone()
	cp.Status = job.StatusProcessing
	cp.StartedAt = &now
	cp.WorkerID = id.NewWorkerID()
	if err := s.CompareAndPut(ctx, cp, 1, time.Hour); err != nil {
		t.Fatalf("CompareAndPut: %v", err)
	}
	if cp.Version != 2 {
		t.Fatalf("version = %d, want 2", cp.Version)
	}

	stale := j.Clone()
	stale.Status = job.StatusCancelled
	if err := s.CompareAndPut(ctx, stale, 1, time.Hour); !errors.Is(err, genqueue.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if stale.Version != 1 {
		t.Fatalf("failed write must not advance version, got %d", stale.Version)
	}

	// A rewrite clears fields the previous write set.
	cp.Status = job.StatusQueued
	cp.StartedAt = nil
	cp.WorkerID = id.WorkerID{}
	if err := s.CompareAndPut(ctx, cp, 2, time.Hour); err != nil {
		t.Fatalf("CompareAndPut: %v", err)
	}
	got, _ := s.GetRecord(ctx, j.ID)
	if got.StartedAt != nil || !got.WorkerID.IsNil() || got.Version != 3 {
		t.Fatalf("stale fields survived rewrite: %+v", got)
	}

	missing := newJob()
	if err := s.CompareAndPut(ctx, missing, 1, time.Hour); !errors.Is(err, genqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_DeleteRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJob()
	_ = s.PutRecord(ctx, j, time.Hour)

	if err := s.DeleteRecord(ctx, j.ID); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if err := s.DeleteRecord(ctx, j.ID); err != nil {
		t.Fatalf("deleting a missing record must not fail: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Active index tests
// ──────────────────────────────────────────────────

func TestStore_ActiveIndex(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, b := id.NewJobID(), id.NewJobID()
	_ = s.AddActive(ctx, a)
	_ = s.AddActive(ctx, b)
	_ = s.AddActive(ctx, a)

	all, err := s.ListActive(ctx, 0)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListActive = %d ids, want 2", len(all))
	}

	_ = s.RemoveActive(ctx, a)
	one, _ := s.ListActive(ctx, 10)
	if len(one) != 1 || one[0].String() != b.String() {
		t.Fatalf("ListActive after remove = %v", one)
	}
}

// ──────────────────────────────────────────────────
// Cluster tests
// ──────────────────────────────────────────────────

func TestStore_WorkerRegistry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	w := &cluster.Worker{
		ID:          id.NewWorkerID(),
		Hostname:    "host-a",
		Queue:       "test",
		Concurrency: 4,
		State:       cluster.WorkerActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.RegisterWorker(ctx, w, time.Minute); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	short := &cluster.Worker{ID: id.NewWorkerID(), CreatedAt: time.Now().UTC()}
	_ = s.RegisterWorker(ctx, short, 200*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].Hostname != "host-a" || workers[0].Concurrency != 4 {
		t.Fatalf("ListWorkers = %+v", workers)
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	if workers, _ = s.ListWorkers(ctx); len(workers) != 0 {
		t.Fatalf("ListWorkers after deregister = %d", len(workers))
	}
}

func TestStore_Leadership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a, b := id.NewWorkerID(), id.NewWorkerID()

	if ok, err := s.AcquireLeadership(ctx, a, time.Second); err != nil || !ok {
		t.Fatalf("AcquireLeadership(a) = %v, %v", ok, err)
	}
	if ok, _ := s.AcquireLeadership(ctx, b, time.Second); ok {
		t.Fatal("b must not steal held leadership")
	}
	if ok, _ := s.AcquireLeadership(ctx, a, time.Second); !ok {
		t.Fatal("holder should renew")
	}
	if leader, _ := s.Leader(ctx); leader.String() != a.String() {
		t.Fatalf("Leader = %s, want %s", leader, a)
	}

	_ = s.ReleaseLeadership(ctx, b)
	if leader, _ := s.Leader(ctx); leader.String() != a.String() {
		t.Fatal("release by non-holder must be a no-op")
	}
	_ = s.ReleaseLeadership(ctx, a)
	if leader, _ := s.Leader(ctx); !leader.IsNil() {
		t.Fatalf("Leader after release = %s", leader)
	}

	_, _ = s.AcquireLeadership(ctx, b, 200*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	if ok, _ := s.AcquireLeadership(ctx, a, time.Second); !ok {
		t.Fatal("expired leadership should be free")
	}
}
