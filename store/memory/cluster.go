package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/genqueue/cluster"
	"github.com/xraph/genqueue/id"
)

var _ cluster.Store = (*Store)(nil)

type registration struct {
	worker    cluster.Worker
	expiresAt time.Time
}

type leadership struct {
	holder    id.WorkerID
	expiresAt time.Time
}

// RegisterWorker adds or replaces w until ttl elapses.
func (s *Store) RegisterWorker(_ context.Context, w *cluster.Worker, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workers == nil {
		s.workers = make(map[string]registration)
	}
	s.workers[w.ID.String()] = registration{worker: *w, expiresAt: s.now().Add(ttl)}
	return nil
}

// DeregisterWorker removes a worker.
func (s *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workers, workerID.String())
	return nil
}

// ListWorkers returns the unexpired registrations ordered by creation.
func (s *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	leader := s.leaderLocked(now)

	out := make([]*cluster.Worker, 0, len(s.workers))
	for key, r := range s.workers {
		if !now.Before(r.expiresAt) {
			delete(s.workers, key)
			continue
		}
		w := r.worker
		w.IsLeader = !leader.IsNil() && w.ID.String() == leader.String()
		out = append(out, &w)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// AcquireLeadership takes the leadership when it is free or expired, or
// extends it for its current holder.
func (s *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur := s.leaderLocked(now)
	if !cur.IsNil() && cur.String() != workerID.String() {
		return false, nil
	}
	s.leader = leadership{holder: workerID, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLeadership clears the leadership if workerID holds it.
func (s *Store) ReleaseLeadership(_ context.Context, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leader.holder.String() == workerID.String() {
		s.leader = leadership{}
	}
	return nil
}

// Leader returns the current unexpired leader.
func (s *Store) Leader(_ context.Context) (id.WorkerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderLocked(s.now()), nil
}

func (s *Store) leaderLocked(now time.Time) id.WorkerID {
	if s.leader.holder.IsNil() || !now.Before(s.leader.expiresAt) {
		return id.Nil
	}
	return s.leader.holder
}
