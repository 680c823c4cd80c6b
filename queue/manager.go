package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

// maxWriteAttempts bounds the read-modify-write loop on version conflicts.
const maxWriteAttempts = 3

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	// QueueLength is the number of IDs waiting across all lanes.
	QueueLength int64 `json:"queue_length"`
	// ActiveCount is the size of the active index.
	ActiveCount int `json:"active_count"`
	// ProcessingCount is the number of active jobs currently processing.
	ProcessingCount int `json:"processing_count"`
}

// Manager implements the queue operations on top of a job.Store. Every
// record update is a versioned read-modify-write, so concurrent writers
// never silently overwrite each other. It is safe for concurrent use.
type Manager struct {
	store         job.Store
	name          string
	retention     time.Duration
	leaseTTL      time.Duration
	priorityLanes bool
	defaults      job.Options
	extensions    *ext.Registry
	logger        *slog.Logger
	now           func() time.Time
}

// NewManager creates a Manager over the given store.
func NewManager(store job.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		name:      "generation",
		retention: 24 * time.Hour,
		leaseTTL:  5 * time.Minute,
		defaults:  job.DefaultOptions(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extensions == nil {
		m.extensions = ext.NewRegistry(m.logger)
	}
	return m
}

// Store returns the underlying job store.
func (m *Manager) Store() job.Store { return m.store }

// Name returns the queue name.
func (m *Manager) Name() string { return m.name }

// Lanes returns the lanes a dequeue polls, in order.
func (m *Manager) Lanes() []string { return job.Lanes(m.priorityLanes) }

// ──────────────────────────────────────────────────
// Producer operations
// ──────────────────────────────────────────────────

// Enqueue creates a queued job for payload and returns its ID. The payload
// is stored byte-for-byte. Enqueue never blocks on queue depth.
func (m *Manager) Enqueue(ctx context.Context, payload json.RawMessage, opts ...job.Option) (id.JobID, error) {
	if _, err := job.DecodeRequest(payload); err != nil {
		return id.Nil, err
	}

	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts < 0 {
		return id.Nil, fmt.Errorf("%w: max attempts must not be negative", genqueue.ErrInvalidPayload)
	}
	if o.Priority == "" {
		o.Priority = job.PriorityNormal
	}
	if _, err := job.ParsePriority(string(o.Priority)); err != nil {
		return id.Nil, fmt.Errorf("%w: %v", genqueue.ErrInvalidPayload, err)
	}

	j := &job.Job{
		ID:          id.NewJobID(),
		Status:      job.StatusQueued,
		Priority:    o.Priority,
		Payload:     append(json.RawMessage(nil), payload...),
		MaxAttempts: o.MaxAttempts,
		Version:     1,
		CreatedAt:   m.now().UTC(),
	}

	// Record and active entry go first so a popped ID always resolves.
	if err := m.store.PutRecord(ctx, j, m.retention); err != nil {
		return id.Nil, fmt.Errorf("genqueue/queue: enqueue: %w", err)
	}
	if err := m.store.AddActive(ctx, j.ID); err != nil {
		m.discard(ctx, j.ID)
		return id.Nil, fmt.Errorf("genqueue/queue: enqueue: %w", err)
	}
	if err := m.pushLane(ctx, j); err != nil {
		m.discard(ctx, j.ID)
		return id.Nil, fmt.Errorf("genqueue/queue: enqueue: %w", err)
	}

	m.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", m.name),
		slog.String("priority", string(j.Priority)),
	)
	m.extensions.EmitJobEnqueued(ctx, j)

	return j.ID, nil
}

// EnqueueRequest marshals req and enqueues it.
func (m *Manager) EnqueueRequest(ctx context.Context, req job.GenerationRequest, opts ...job.Option) (id.JobID, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return id.Nil, fmt.Errorf("%w: %v", genqueue.ErrInvalidPayload, err)
	}
	return m.Enqueue(ctx, payload, opts...)
}

// GetStatus returns the current record for jobID, or
// genqueue.ErrJobNotFound when it is unknown or has expired.
func (m *Manager) GetStatus(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := m.store.GetRecord(ctx, jobID)
	if err != nil {
		if errors.Is(err, genqueue.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("genqueue/queue: get status: %w", err)
	}
	return j, nil
}

// Cancel moves a non-terminal job to cancelled and removes it from the
// active index and its lane. Cancelling a terminal job is a no-op that
// returns true. It returns false when the record does not exist.
// An in-flight generation is not interrupted; the worker discards its
// output when it sees the cancelled status.
func (m *Manager) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	changed := false
	j, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		if j.Status.Terminal() {
			changed = false
			return false, nil
		}
		now := m.now().UTC()
		j.Status = job.StatusCancelled
		j.CancelledAt = &now
		j.LeaseExpiresAt = nil
		changed = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("genqueue/queue: cancel: %w", err)
	}
	if j == nil {
		return false, nil
	}
	if !changed {
		return true, nil
	}

	if err := m.store.RemoveActive(ctx, jobID); err != nil {
		return true, fmt.Errorf("genqueue/queue: cancel: %w", err)
	}
	if err := m.store.RemoveQueued(ctx, j.Lane(m.priorityLanes), jobID); err != nil {
		return true, fmt.Errorf("genqueue/queue: cancel: %w", err)
	}

	m.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	m.extensions.EmitJobCancelled(ctx, j)
	return true, nil
}

// ──────────────────────────────────────────────────
// Worker operations
// ──────────────────────────────────────────────────

// Dequeue pops the next job and moves it to processing. It blocks up to
// timeout and returns nil, nil when nothing arrived or the popped ID no
// longer refers to a queued job.
func (m *Manager) Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	return m.DequeueAs(ctx, id.Nil, timeout)
}

// DequeueAs is Dequeue with the processing lease held by workerID.
func (m *Manager) DequeueAs(ctx context.Context, workerID id.WorkerID, timeout time.Duration) (*job.Job, error) {
	jobID, err := m.store.PopQueue(ctx, m.Lanes(), timeout)
	if err != nil {
		return nil, fmt.Errorf("genqueue/queue: dequeue: %w", err)
	}
	if jobID.IsNil() {
		return nil, nil
	}

	claimed := false
	j, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		if j.Status != job.StatusQueued {
			claimed = false
			return false, nil
		}
		now := m.now().UTC()
		j.Status = job.StatusProcessing
		j.StartedAt = &now
		j.WorkerID = workerID
		if m.leaseTTL > 0 {
			expires := now.Add(m.leaseTTL)
			j.LeaseExpiresAt = &expires
		}
		claimed = true
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("genqueue/queue: dequeue: %w", err)
	}
	if j == nil {
		m.logger.Debug("popped job has no record", slog.String("job_id", jobID.String()))
		return nil, nil
	}
	if !claimed {
		m.logger.Debug("skipping popped job",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(j.Status)),
		)
		return nil, nil
	}

	m.extensions.EmitJobStarted(ctx, j)
	return j, nil
}

// UpdateStatus moves a job to status and merges upd into it. It returns
// false when the record does not exist. Terminal statuses set their
// timestamp and remove the job from the active index. A job that is
// already terminal cannot change status; that returns
// genqueue.ErrInvalidState.
func (m *Manager) UpdateStatus(ctx context.Context, jobID id.JobID, status job.Status, upd job.Update) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", genqueue.ErrInvalidState, status)
	}

	var prior job.Status
	j, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		if j.Status.Terminal() {
			return false, fmt.Errorf("%w: job is %s", genqueue.ErrInvalidState, j.Status)
		}
		prior = j.Status
		applyUpdate(j, status, upd, m.now().UTC())
		return true, j.Validate()
	})
	if err != nil {
		return false, fmt.Errorf("genqueue/queue: update status: %w", err)
	}
	if j == nil {
		return false, nil
	}

	if status.Terminal() {
		if err := m.store.RemoveActive(ctx, jobID); err != nil {
			return true, fmt.Errorf("genqueue/queue: update status: %w", err)
		}
	}
	// A job moved back to queued needs its ID in a lane again.
	if status == job.StatusQueued && prior != job.StatusQueued {
		if err := m.pushLane(ctx, j); err != nil {
			return true, fmt.Errorf("genqueue/queue: update status: %w", err)
		}
	}

	switch status {
	case job.StatusCompleted:
		var elapsed time.Duration
		if j.StartedAt != nil && j.CompletedAt != nil {
			elapsed = j.CompletedAt.Sub(*j.StartedAt)
		}
		m.extensions.EmitJobCompleted(ctx, j, elapsed)
	case job.StatusFailed:
		m.extensions.EmitJobFailed(ctx, j, errors.New(j.ErrorMessage))
	case job.StatusCancelled:
		m.extensions.EmitJobCancelled(ctx, j)
	}

	m.logger.Debug("job status updated",
		slog.String("job_id", jobID.String()),
		slog.String("status", string(status)),
	)
	return true, nil
}

// applyUpdate sets status and merges upd into j.
func applyUpdate(j *job.Job, status job.Status, upd job.Update, now time.Time) {
	if upd.Result != nil {
		j.Result = append(json.RawMessage(nil), upd.Result...)
	}
	if upd.Error != "" {
		j.ErrorMessage = upd.Error
	}
	if len(upd.Meta) > 0 {
		if j.Meta == nil {
			j.Meta = make(map[string]string, len(upd.Meta))
		}
		for k, v := range upd.Meta {
			j.Meta[k] = v
		}
	}
	if upd.CountAttempt && j.Attempts < j.MaxAttempts {
		j.Attempts++
	}

	j.Status = status
	switch status {
	case job.StatusProcessing:
		j.StartedAt = &now
	case job.StatusCompleted:
		j.CompletedAt = &now
		j.ErrorMessage = ""
	case job.StatusFailed:
		j.FailedAt = &now
		j.Result = nil
		j.Cost = 0
	case job.StatusCancelled:
		j.CancelledAt = &now
		j.Result = nil
		j.ErrorMessage = ""
	case job.StatusQueued:
		j.Result = nil
		j.ErrorMessage = ""
		j.WorkerID = id.Nil
		j.LeaseExpiresAt = nil
	}
	if status.Terminal() {
		j.LeaseExpiresAt = nil
	}
}

// Retry puts a failed or processing job back in the queue, incrementing
// its attempt count. It returns false when the record is missing, the
// retry budget is spent, or the job is queued, completed or cancelled.
func (m *Manager) Retry(ctx context.Context, jobID id.JobID) (bool, error) {
	retried := false
	j, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		retried = false
		if j.Status != job.StatusFailed && j.Status != job.StatusProcessing {
			return false, nil
		}
		if j.Attempts >= j.MaxAttempts {
			return false, nil
		}
		now := m.now().UTC()
		j.Attempts++
		j.Status = job.StatusQueued
		j.ErrorMessage = ""
		j.Result = nil
		j.FailedAt = nil
		j.RetriedAt = &now
		j.WorkerID = id.Nil
		j.LeaseExpiresAt = nil
		j.Cost = 0
		retried = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("genqueue/queue: retry: %w", err)
	}
	if j == nil || !retried {
		return false, nil
	}

	if err := m.store.AddActive(ctx, jobID); err != nil {
		return true, fmt.Errorf("genqueue/queue: retry: %w", err)
	}
	if err := m.pushLane(ctx, j); err != nil {
		return true, fmt.Errorf("genqueue/queue: retry: %w", err)
	}

	m.logger.Info("job retrying",
		slog.String("job_id", jobID.String()),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
	)
	m.extensions.EmitJobRetrying(ctx, j, j.Attempts)
	return true, nil
}

// Requeue returns a processing job to the tail of its lane without
// consuming an attempt. The worker uses it for throttled jobs.
func (m *Manager) Requeue(ctx context.Context, jobID id.JobID) (bool, error) {
	j, ok, err := m.requeue(ctx, jobID, func(*job.Job) bool { return true })
	if err != nil {
		return ok, fmt.Errorf("genqueue/queue: requeue: %w", err)
	}
	if ok {
		m.logger.Debug("job requeued", slog.String("job_id", j.ID.String()))
	}
	return ok, nil
}

// requeue moves a processing job matching cond back to queued and pushes
// it. The returned job carries the Cost that was cleared. A failed push
// still reports the move; RepairLanes restores the lane entry.
func (m *Manager) requeue(ctx context.Context, jobID id.JobID, cond func(*job.Job) bool) (*job.Job, bool, error) {
	var (
		moved     bool
		priorCost int64
	)
	j, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		moved = false
		if j.Status != job.StatusProcessing || !cond(j) {
			return false, nil
		}
		priorCost = j.Cost
		j.Status = job.StatusQueued
		j.WorkerID = id.Nil
		j.LeaseExpiresAt = nil
		j.Cost = 0
		moved = true
		return true, nil
	})
	if err != nil || j == nil || !moved {
		return nil, false, err
	}
	out := j.Clone()
	out.Cost = priorCost
	return out, true, m.pushLane(ctx, j)
}

// RenewLease extends the lease of a processing job held by workerID. It
// returns false when the job is no longer processing under that worker.
func (m *Manager) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	renewed := false
	j, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		renewed = false
		if j.Status != job.StatusProcessing || j.WorkerID.String() != workerID.String() {
			return false, nil
		}
		expires := m.now().UTC().Add(ttl)
		j.LeaseExpiresAt = &expires
		renewed = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("genqueue/queue: renew lease: %w", err)
	}
	return j != nil && renewed, nil
}

// SetCost records the bricks debited for the attempt workerID is running.
// It returns false, writing nothing, when the job is no longer processing
// under workerID.
func (m *Manager) SetCost(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cost int64) (bool, error) {
	set := false
	_, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		set = false
		if j.Status != job.StatusProcessing || j.WorkerID.String() != workerID.String() {
			return false, nil
		}
		set = true
		if j.Cost == cost {
			return false, nil
		}
		j.Cost = cost
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("genqueue/queue: set cost: %w", err)
	}
	return set, nil
}

// ClaimRefund clears the cost recorded for workerID's attempt and returns
// the amount cleared, which the caller then owes back to the user. owned
// is false when the attempt is no longer workerID's to settle: the job
// was requeued by the lease sweep or handed to another worker, and
// whoever moved it has settled the cost. A cancelled job stays with the
// worker that was running it. A missing record returns
// genqueue.ErrJobNotFound.
//
// Exactly one of ClaimRefund and RequeueExpiredLeases observes a given
// non-zero cost, so an attempt is refunded at most once.
func (m *Manager) ClaimRefund(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (amount int64, owned bool, err error) {
	j, err := m.mutate(ctx, jobID, func(j *job.Job) (bool, error) {
		amount, owned = 0, false
		if j.Status != job.StatusProcessing && j.Status != job.StatusCancelled {
			return false, nil
		}
		if j.WorkerID.String() != workerID.String() {
			return false, nil
		}
		owned = true
		if j.Cost <= 0 {
			return false, nil
		}
		amount = j.Cost
		j.Cost = 0
		return true, nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("genqueue/queue: claim refund: %w", err)
	}
	if j == nil {
		return 0, false, genqueue.ErrJobNotFound
	}
	return amount, owned, nil
}

// ──────────────────────────────────────────────────
// Inspection and maintenance
// ──────────────────────────────────────────────────

// Stats returns queue length, active count and processing count. The
// processing count reads every active record.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	n, err := m.store.Length(ctx, m.Lanes())
	if err != nil {
		return st, fmt.Errorf("genqueue/queue: stats: %w", err)
	}
	st.QueueLength = n

	jobs, err := m.activeJobs(ctx)
	if err != nil {
		return st, fmt.Errorf("genqueue/queue: stats: %w", err)
	}
	st.ActiveCount = len(jobs)
	for _, j := range jobs {
		if j.Status == job.StatusProcessing {
			st.ProcessingCount++
		}
	}
	return st, nil
}

// ListActive returns up to limit active jobs ordered high, normal, low
// and, within a priority, most recent first. Zero means no limit. The
// order is for display; it does not describe dequeue order.
func (m *Manager) ListActive(ctx context.Context, limit int) ([]*job.Job, error) {
	jobs, err := m.activeJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("genqueue/queue: list active: %w", err)
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		ra, rb := jobs[a].Priority.Rank(), jobs[b].Priority.Rank()
		if ra != rb {
			return ra < rb
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// CleanOldJobs removes every active job created more than maxAge ago,
// whatever its status, and deletes its record. Active entries whose
// record has already expired are dropped too. It returns the number of
// entries removed.
func (m *Manager) CleanOldJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := m.store.ListActive(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("genqueue/queue: clean old jobs: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, jobID := range ids {
		j, getErr := m.store.GetRecord(ctx, jobID)
		switch {
		case errors.Is(getErr, genqueue.ErrJobNotFound):
		case getErr != nil:
			return removed, fmt.Errorf("genqueue/queue: clean old jobs: %w", getErr)
		case !j.CreatedAt.Before(cutoff):
			continue
		}

		if err := m.store.RemoveActive(ctx, jobID); err != nil {
			return removed, fmt.Errorf("genqueue/queue: clean old jobs: %w", err)
		}
		if j != nil {
			if j.Status == job.StatusQueued {
				if err := m.store.RemoveQueued(ctx, j.Lane(m.priorityLanes), jobID); err != nil {
					return removed, fmt.Errorf("genqueue/queue: clean old jobs: %w", err)
				}
			}
			if err := m.store.DeleteRecord(ctx, jobID); err != nil {
				return removed, fmt.Errorf("genqueue/queue: clean old jobs: %w", err)
			}
			m.logger.Warn("removed stale job",
				slog.String("job_id", jobID.String()),
				slog.String("status", string(j.Status)),
				slog.Time("created_at", j.CreatedAt),
			)
		}
		removed++
	}
	return removed, nil
}

// RepairLanes pushes every active queued job whose ID is missing from its
// lane, as left behind by a lane write that failed after the record had
// already been moved to queued. It returns the number of jobs re-pushed.
//
// A job popped by a concurrent dequeue but not yet claimed can be pushed
// a second time; the stale entry is skipped when popped.
func (m *Manager) RepairLanes(ctx context.Context) (int, error) {
	jobs, err := m.activeJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("genqueue/queue: repair lanes: %w", err)
	}

	repaired := 0
	for _, j := range jobs {
		if j.Status != job.StatusQueued {
			continue
		}
		lane := j.Lane(m.priorityLanes)
		queued, qErr := m.store.InQueue(ctx, lane, j.ID)
		if qErr != nil {
			return repaired, fmt.Errorf("genqueue/queue: repair lanes: %w", qErr)
		}
		if queued {
			continue
		}
		if err := m.store.PushQueue(ctx, lane, j.ID); err != nil {
			return repaired, fmt.Errorf("genqueue/queue: repair lanes: %w", err)
		}
		m.logger.Warn("re-pushed queued job missing from its lane",
			slog.String("job_id", j.ID.String()),
			slog.String("lane", lane),
		)
		repaired++
	}
	return repaired, nil
}

// RequeueExpiredLeases returns processing jobs whose lease has expired to
// the queue without consuming an attempt. The returned jobs carry the
// Cost that stood for the abandoned attempt so the caller can refund it.
func (m *Manager) RequeueExpiredLeases(ctx context.Context) ([]*job.Job, error) {
	ids, err := m.store.ListActive(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("genqueue/queue: requeue expired leases: %w", err)
	}

	now := m.now()
	expired := func(j *job.Job) bool {
		return j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
	}

	var out []*job.Job
	for _, jobID := range ids {
		j, ok, reqErr := m.requeue(ctx, jobID, expired)
		if !ok {
			if reqErr != nil {
				return out, fmt.Errorf("genqueue/queue: requeue expired leases: %w", reqErr)
			}
			continue
		}
		if reqErr != nil {
			// The cost is already cleared; the caller must still see it.
			m.logger.Error("requeued job could not be pushed to its lane",
				slog.String("job_id", jobID.String()),
				slog.String("error", reqErr.Error()),
			)
		}
		m.logger.Warn("requeued job with expired lease",
			slog.String("job_id", jobID.String()),
			slog.Int64("cost", j.Cost),
		)
		out = append(out, j)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// pushLane appends j to its lane, retrying a failed write. The record is
// already queued when this runs, so giving up leaves the job to
// RepairLanes.
func (m *Manager) pushLane(ctx context.Context, j *job.Job) error {
	var err error
	for range maxWriteAttempts {
		if err = m.store.PushQueue(ctx, j.Lane(m.priorityLanes), j.ID); err == nil {
			return nil
		}
		m.logger.Warn("lane push failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// discard removes the record and active entry of a job whose enqueue did
// not complete. It is best effort; a leftover record expires on its own.
func (m *Manager) discard(ctx context.Context, jobID id.JobID) {
	ctx = context.WithoutCancel(ctx)
	if err := m.store.RemoveActive(ctx, jobID); err != nil {
		m.logger.Warn("failed to roll back active entry",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := m.store.DeleteRecord(ctx, jobID); err != nil {
		m.logger.Warn("failed to roll back job record",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// activeJobs loads the record of every active ID, skipping expired ones.
func (m *Manager) activeJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := m.store.ListActive(ctx, 0)
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, jobID := range ids {
		j, getErr := m.store.GetRecord(ctx, jobID)
		if errors.Is(getErr, genqueue.ErrJobNotFound) {
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// mutate loads the record, applies fn and writes it back with
// CompareAndPut, re-reading and re-applying on version conflicts. fn
// returns false to skip the write. A nil job means the record does not
// exist.
func (m *Manager) mutate(ctx context.Context, jobID id.JobID, fn func(j *job.Job) (bool, error)) (*job.Job, error) {
	for range maxWriteAttempts {
		j, err := m.store.GetRecord(ctx, jobID)
		if errors.Is(err, genqueue.ErrJobNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		write, err := fn(j)
		if err != nil {
			return nil, err
		}
		if !write {
			return j, nil
		}

		err = m.store.CompareAndPut(ctx, j, j.Version, m.retention)
		switch {
		case err == nil:
			return j, nil
		case errors.Is(err, genqueue.ErrVersionConflict):
			m.logger.Debug("version conflict, retrying write", slog.String("job_id", jobID.String()))
			continue
		case errors.Is(err, genqueue.ErrJobNotFound):
			return nil, nil
		default:
			return nil, err
		}
	}
	return nil, genqueue.ErrVersionConflict
}
