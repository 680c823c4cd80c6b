package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

// compareAndPutScript rewrites a record only when its version field still
// equals ARGV[1]. ARGV[2] is the TTL in milliseconds, ARGV[3:] the
// field/value pairs. Returns -1 when the record is missing, 0 on a version
// mismatch and 1 on success.
var compareAndPutScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then
	return -1
end
if cur ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// PutRecord stores the job as a Hash and (re)sets its expiration.
func (s *Store) PutRecord(ctx context.Context, j *job.Job, ttl time.Duration) error {
	key := recordKey(s.ns, j.ID.String())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("genqueue/redis: put record: %w", err)
	}
	return nil
}

// CompareAndPut writes the record only if the stored version matches
// expectedVersion. On success j.Version is advanced to expectedVersion+1.
func (s *Store) CompareAndPut(ctx context.Context, j *job.Job, expectedVersion int64, ttl time.Duration) error {
	key := recordKey(s.ns, j.ID.String())

	j.Version = expectedVersion + 1
	fields := jobToMap(j)

	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, strconv.FormatInt(expectedVersion, 10), ttl.Milliseconds())
	for k, v := range fields {
		args = append(args, k, v)
	}

	res, err := compareAndPutScript.Run(ctx, s.client, []string{key}, args...).Int64()
	if err != nil {
		j.Version = expectedVersion
		return fmt.Errorf("genqueue/redis: compare and put: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		j.Version = expectedVersion
		return genqueue.ErrVersionConflict
	default:
		j.Version = expectedVersion
		return genqueue.ErrJobNotFound
	}
}

// GetRecord retrieves a job record by ID.
func (s *Store) GetRecord(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, recordKey(s.ns, jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: get record: %w", err)
	}
	if len(vals) == 0 {
		return nil, genqueue.ErrJobNotFound
	}
	return mapToJob(vals)
}

// DeleteRecord removes the job record.
func (s *Store) DeleteRecord(ctx context.Context, jobID id.JobID) error {
	if err := s.client.Del(ctx, recordKey(s.ns, jobID.String())).Err(); err != nil {
		return fmt.Errorf("genqueue/redis: delete record: %w", err)
	}
	return nil
}

// ── helpers ──

// jobToMap encodes every field, writing "" for absent optional values so a
// rewrite clears fields a previous write set.
func jobToMap(j *job.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":               j.ID.String(),
		"status":           string(j.Status),
		"priority":         string(j.Priority),
		"payload":          string(j.Payload),
		"attempts":         strconv.Itoa(j.Attempts),
		"max_attempts":     strconv.Itoa(j.MaxAttempts),
		"version":          strconv.FormatInt(j.Version, 10),
		"created_at":       j.CreatedAt.Format(time.RFC3339Nano),
		"started_at":       formatTime(j.StartedAt),
		"completed_at":     formatTime(j.CompletedAt),
		"failed_at":        formatTime(j.FailedAt),
		"cancelled_at":     formatTime(j.CancelledAt),
		"retried_at":       formatTime(j.RetriedAt),
		"error_message":    j.ErrorMessage,
		"result":           string(j.Result),
		"worker_id":        j.WorkerID.String(),
		"lease_expires_at": formatTime(j.LeaseExpiresAt),
		"cost":             strconv.FormatInt(j.Cost, 10),
		"meta":             marshalMeta(j.Meta),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: parse job id: %w", err)
	}

	// Best-effort parses from trusted Redis data.
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // see above
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // see above
	version, _ := strconv.ParseInt(m["version"], 10, 64)          //nolint:errcheck // see above
	cost, _ := strconv.ParseInt(m["cost"], 10, 64)                //nolint:errcheck // see above
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // see above

	j := &job.Job{
		ID:             jID,
		Status:         job.Status(m["status"]),
		Priority:       job.Priority(m["priority"]),
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		Version:        version,
		CreatedAt:      createdAt,
		StartedAt:      parseTime(m["started_at"]),
		CompletedAt:    parseTime(m["completed_at"]),
		FailedAt:       parseTime(m["failed_at"]),
		CancelledAt:    parseTime(m["cancelled_at"]),
		RetriedAt:      parseTime(m["retried_at"]),
		ErrorMessage:   m["error_message"],
		LeaseExpiresAt: parseTime(m["lease_expires_at"]),
		Cost:           cost,
		Meta:           unmarshalMeta(m["meta"]),
	}
	if v := m["payload"]; v != "" {
		j.Payload = json.RawMessage(v)
	}
	if v := m["result"]; v != "" {
		j.Result = json.RawMessage(v)
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return j, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, _ := json.Marshal(m) //nolint:errcheck // marshal should not fail for string maps
	return string(b)
}

func unmarshalMeta(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
