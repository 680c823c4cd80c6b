package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNamespace scopes every key under the given queue name.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.ns = ns }
}

// Store implements job.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	ns     string
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, ns: "generation", logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op -- the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Lanes
// ──────────────────────────────────────────────────

// PushQueue appends jobID to the tail of the lane List.
func (s *Store) PushQueue(ctx context.Context, lane string, jobID id.JobID) error {
	if err := s.client.RPush(ctx, laneKey(s.ns, lane), jobID.String()).Err(); err != nil {
		return fmt.Errorf("genqueue/redis: push queue: %w", err)
	}
	return nil
}

// PopQueue pops the head of the first non-empty lane with BLPOP, which
// checks keys in the order given. A timeout yields id.Nil and no error.
func (s *Store) PopQueue(ctx context.Context, lanes []string, timeout time.Duration) (id.JobID, error) {
	keys := make([]string, len(lanes))
	for i, lane := range lanes {
		keys[i] = laneKey(s.ns, lane)
	}

	var raw string
	if timeout <= 0 {
		// BLPOP treats zero as "block forever"; poll once instead.
		for _, k := range keys {
			v, err := s.client.LPop(ctx, k).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				return id.Nil, fmt.Errorf("genqueue/redis: lpop: %w", err)
			}
			raw = v
			break
		}
		if raw == "" {
			return id.Nil, nil
		}
	} else {
		res, err := s.client.BLPop(ctx, timeout, keys...).Result()
		if errors.Is(err, goredis.Nil) {
			return id.Nil, nil
		}
		if err != nil {
			return id.Nil, fmt.Errorf("genqueue/redis: blpop: %w", err)
		}
		if len(res) != 2 {
			return id.Nil, fmt.Errorf("genqueue/redis: blpop: unexpected reply %v", res)
		}
		raw = res[1]
	}

	jobID, err := id.ParseJobID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("genqueue/redis: popped malformed id %q: %w", raw, err)
	}
	return jobID, nil
}

// RemoveQueued removes every occurrence of jobID from the lane List.
func (s *Store) RemoveQueued(ctx context.Context, lane string, jobID id.JobID) error {
	if err := s.client.LRem(ctx, laneKey(s.ns, lane), 0, jobID.String()).Err(); err != nil {
		return fmt.Errorf("genqueue/redis: remove queued: %w", err)
	}
	return nil
}

// InQueue reports whether jobID is in the lane List, using LPOS.
func (s *Store) InQueue(ctx context.Context, lane string, jobID id.JobID) (bool, error) {
	err := s.client.LPos(ctx, laneKey(s.ns, lane), jobID.String(), goredis.LPosArgs{}).Err()
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("genqueue/redis: in queue: %w", err)
	}
	return true, nil
}

// Length returns the combined LLEN of the lanes.
func (s *Store) Length(ctx context.Context, lanes []string) (int64, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.IntCmd, len(lanes))
	for i, lane := range lanes {
		cmds[i] = pipe.LLen(ctx, laneKey(s.ns, lane))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("genqueue/redis: length: %w", err)
	}

	var n int64
	for _, c := range cmds {
		n += c.Val()
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Active index
// ──────────────────────────────────────────────────

// AddActive adds jobID to the active Set.
func (s *Store) AddActive(ctx context.Context, jobID id.JobID) error {
	if err := s.client.SAdd(ctx, activeKey(s.ns), jobID.String()).Err(); err != nil {
		return fmt.Errorf("genqueue/redis: add active: %w", err)
	}
	return nil
}

// RemoveActive removes jobID from the active Set.
func (s *Store) RemoveActive(ctx context.Context, jobID id.JobID) error {
	if err := s.client.SRem(ctx, activeKey(s.ns), jobID.String()).Err(); err != nil {
		return fmt.Errorf("genqueue/redis: remove active: %w", err)
	}
	return nil
}

// ListActive returns up to limit active job IDs in lexical order.
func (s *Store) ListActive(ctx context.Context, limit int) ([]id.JobID, error) {
	members, err := s.client.SMembers(ctx, activeKey(s.ns)).Result()
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: list active smembers: %w", err)
	}
	sort.Strings(members)

	out := make([]id.JobID, 0, len(members))
	for _, m := range members {
		if limit > 0 && len(out) >= limit {
			break
		}
		jobID, parseErr := id.ParseJobID(m)
		if parseErr != nil {
			s.logger.Warn("skipping malformed active id",
				slog.String("member", m),
				slog.String("error", parseErr.Error()),
			)
			continue
		}
		out = append(out, jobID)
	}
	return out, nil
}
