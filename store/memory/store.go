// Package memory implements job.Store entirely in memory. It is safe for
// concurrent access and intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

var _ job.Store = (*Store)(nil)

type record struct {
	job       *job.Job
	expiresAt time.Time
}

// Store is a fully in-memory implementation of job.Store.
type Store struct {
	mu sync.Mutex

	lanes   map[string][]id.JobID
	records map[string]record
	active  map[string]id.JobID

	workers map[string]registration
	leader  leadership

	// pushed is closed and replaced on every push to wake blocked pops.
	pushed chan struct{}

	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the clock used for record expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		lanes:   make(map[string][]id.JobID),
		records: make(map[string]record),
		active:  make(map[string]id.JobID),
		workers: make(map[string]registration),
		pushed:  make(chan struct{}),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Lanes
// ──────────────────────────────────────────────────

// PushQueue appends jobID to the tail of lane.
func (s *Store) PushQueue(_ context.Context, lane string, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lanes[lane] = append(s.lanes[lane], jobID)
	close(s.pushed)
	s.pushed = make(chan struct{})
	return nil
}

// PopQueue removes the head of the first non-empty lane, waiting up to
// timeout for a push.
func (s *Store) PopQueue(ctx context.Context, lanes []string, timeout time.Duration) (id.JobID, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		for _, lane := range lanes {
			q := s.lanes[lane]
			if len(q) == 0 {
				continue
			}
			head := q[0]
			s.lanes[lane] = q[1:]
			s.mu.Unlock()
			return head, nil
		}
		wait := s.pushed
		s.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return id.Nil, nil
		case <-ctx.Done():
			return id.Nil, ctx.Err()
		}
	}
}

// RemoveQueued removes every occurrence of jobID from lane.
func (s *Store) RemoveQueued(_ context.Context, lane string, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.lanes[lane]
	kept := q[:0]
	for _, qid := range q {
		if qid.String() != jobID.String() {
			kept = append(kept, qid)
		}
	}
	s.lanes[lane] = kept
	return nil
}

// InQueue reports whether jobID is waiting in lane.
func (s *Store) InQueue(_ context.Context, lane string, jobID id.JobID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, qid := range s.lanes[lane] {
		if qid.String() == jobID.String() {
			return true, nil
		}
	}
	return false, nil
}

// Length returns the number of IDs waiting across lanes.
func (s *Store) Length(_ context.Context, lanes []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, lane := range lanes {
		n += int64(len(s.lanes[lane]))
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Records
// ──────────────────────────────────────────────────

// PutRecord upserts the job record with an expiration.
func (s *Store) PutRecord(_ context.Context, j *job.Job, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[j.ID.String()] = record{job: j.Clone(), expiresAt: s.now().Add(ttl)}
	return nil
}

// CompareAndPut writes the record only if the stored version matches.
// On success j.Version is advanced to expectedVersion+1.
func (s *Store) CompareAndPut(_ context.Context, j *job.Job, expectedVersion int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	cur, ok := s.lookup(key)
	if !ok {
		return genqueue.ErrJobNotFound
	}
	if cur.Version != expectedVersion {
		return genqueue.ErrVersionConflict
	}

	j.Version = expectedVersion + 1
	s.records[key] = record{job: j.Clone(), expiresAt: s.now().Add(ttl)}
	return nil
}

// GetRecord returns the job record.
func (s *Store) GetRecord(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.lookup(jobID.String())
	if !ok {
		return nil, genqueue.ErrJobNotFound
	}
	return j.Clone(), nil
}

// DeleteRecord removes the job record.
func (s *Store) DeleteRecord(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, jobID.String())
	return nil
}

// lookup returns the live record for key, dropping it if expired.
// Callers must hold s.mu.
func (s *Store) lookup(key string) (*job.Job, bool) {
	r, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(r.expiresAt) {
		delete(s.records, key)
		return nil, false
	}
	return r.job, true
}

// ──────────────────────────────────────────────────
// Active index
// ──────────────────────────────────────────────────

// AddActive adds jobID to the active index.
func (s *Store) AddActive(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active[jobID.String()] = jobID
	return nil
}

// RemoveActive removes jobID from the active index.
func (s *Store) RemoveActive(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, jobID.String())
	return nil
}

// ListActive returns up to limit active job IDs in lexical order.
func (s *Store) ListActive(_ context.Context, limit int) ([]id.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.active))
	for k := range s.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]id.JobID, len(keys))
	for i, k := range keys {
		out[i] = s.active[k]
	}
	return out, nil
}
