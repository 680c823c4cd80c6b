package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/genqueue/cluster"
	"github.com/xraph/genqueue/id"
)

var _ cluster.Store = (*Store)(nil)

// acquireLeaderScript sets the leader key when it is free or already held
// by ARGV[1], and (re)sets its TTL to ARGV[2] milliseconds.
var acquireLeaderScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// releaseLeaderScript deletes the leader key only if ARGV[1] holds it.
var releaseLeaderScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RegisterWorker stores w as JSON with a TTL and indexes its ID.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker, ttl time.Duration) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("genqueue/redis: encode worker: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, workerKey(s.ns, w.ID.String()), data, ttl)
	pipe.SAdd(ctx, workersKey(s.ns), w.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("genqueue/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes the worker's registration and index entry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(s.ns, workerID.String()))
	pipe.SRem(ctx, workersKey(s.ns), workerID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("genqueue/redis: deregister worker: %w", err)
	}
	return nil
}

// ListWorkers returns every live registration. Index entries whose
// registration has lapsed are pruned.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	members, err := s.client.SMembers(ctx, workersKey(s.ns)).Result()
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: list workers: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = workerKey(s.ns, m)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: list workers: %w", err)
	}

	leader, err := s.Leader(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*cluster.Worker, 0, len(vals))
	var lapsed []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			lapsed = append(lapsed, members[i])
			continue
		}
		var w cluster.Worker
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			s.logger.Warn("skipping malformed worker registration",
				slog.String("worker_id", members[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.IsLeader = !leader.IsNil() && w.ID.String() == leader.String()
		out = append(out, &w)
	}

	if len(lapsed) > 0 {
		if err := s.client.SRem(ctx, workersKey(s.ns), lapsed...).Err(); err != nil {
			s.logger.Warn("failed to prune lapsed workers", slog.String("error", err.Error()))
		}
	}

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// AcquireLeadership takes or renews the leader key.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	res, err := acquireLeaderScript.Run(ctx, s.client, []string{leaderKey(s.ns)},
		workerID.String(), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("genqueue/redis: acquire leadership: %w", err)
	}
	return res == 1, nil
}

// ReleaseLeadership deletes the leader key if workerID holds it.
func (s *Store) ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error {
	if err := releaseLeaderScript.Run(ctx, s.client, []string{leaderKey(s.ns)}, workerID.String()).Err(); err != nil {
		return fmt.Errorf("genqueue/redis: release leadership: %w", err)
	}
	return nil
}

// Leader returns the worker holding the leader key.
func (s *Store) Leader(ctx context.Context) (id.WorkerID, error) {
	v, err := s.client.Get(ctx, leaderKey(s.ns)).Result()
	if errors.Is(err, goredis.Nil) {
		return id.Nil, nil
	}
	if err != nil {
		return id.Nil, fmt.Errorf("genqueue/redis: leader: %w", err)
	}
	workerID, err := id.ParseWorkerID(v)
	if err != nil {
		return id.Nil, fmt.Errorf("genqueue/redis: leader: %w", err)
	}
	return workerID, nil
}
