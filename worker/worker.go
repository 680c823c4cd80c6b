package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/genqueue/backoff"
	"github.com/xraph/genqueue/cluster"
	"github.com/xraph/genqueue/cron"
	"github.com/xraph/genqueue/generate"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/ledger"
	"github.com/xraph/genqueue/middleware"
	"github.com/xraph/genqueue/queue"
)

// Sweep task names registered with the maintenance scheduler.
const (
	TaskRequeueExpiredLeases = "requeue-expired-leases"
	TaskRepairLanes          = "repair-lanes"
	TaskCleanOldJobs         = "clean-old-jobs"
)

// Throttle gates job starts per lane and per user. The worker calls
// Acquire after dequeuing a job and Release once the job is settled.
type Throttle interface {
	// Acquire reports whether a job from lane for userID may start now.
	Acquire(lane, userID string) bool
	// Release frees the slot taken by a successful Acquire.
	Release(lane, userID string)
}

// Worker pulls jobs from the queue with concurrent dequeue loops and runs
// them through the Executor. It also renews the leases of in-flight jobs
// and sweeps expired leases and stale jobs on a cron schedule.
type Worker struct {
	manager     *queue.Manager
	coordinator *ledger.Coordinator
	executor    *Executor
	scheduler   *cron.Scheduler
	throttle    Throttle
	cluster     cluster.Store
	logger      *slog.Logger
	workerID    id.WorkerID
	createdAt   time.Time
	leader      atomic.Bool

	concurrency       int
	pollInterval      time.Duration
	generationTimeout time.Duration
	heartbeatInterval time.Duration
	leaseTTL          time.Duration
	sweepSchedule     string
	maxJobAge         time.Duration
	storeBackoff      backoff.Strategy
	retryBackoff      backoff.Strategy
	middleware        []middleware.Middleware

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]*activeJob
	activeMu   sync.Mutex
}

// activeJob is an in-flight job tracked for lease renewal and forced
// cancellation.
type activeJob struct {
	id     id.JobID
	cancel context.CancelFunc
}

// New creates a Worker. The backend is called once per attempt through
// the configured middleware and a hard generation timeout.
func New(
	manager *queue.Manager,
	coordinator *ledger.Coordinator,
	backend generate.Backend,
	opts ...Option,
) *Worker {
	w := &Worker{
		manager:           manager,
		coordinator:       coordinator,
		logger:            slog.Default(),
		workerID:          id.NewWorkerID(),
		createdAt:         time.Now().UTC(),
		concurrency:       1,
		pollInterval:      time.Second,
		generationTimeout: 2 * time.Minute,
		heartbeatInterval: 30 * time.Second,
		leaseTTL:          5 * time.Minute,
		sweepSchedule:     "@every 5m",
		maxJobAge:         time.Hour,
		storeBackoff:      backoff.DefaultStrategy(),
		retryBackoff:      backoff.RetryStrategy(),
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[string]*activeJob),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}

	// The timeout is innermost so it bounds only the backend call.
	mws := append(append([]middleware.Middleware(nil), w.middleware...),
		middleware.Timeout(w.logger, w.generationTimeout))
	w.executor = NewExecutor(manager, coordinator, backend, w.retryBackoff, w.logger, mws...)
	w.scheduler = cron.NewScheduler(w.logger)
	return w
}

// WorkerID returns the worker's unique identifier. It is recorded on
// every job this worker holds a lease for.
func (w *Worker) WorkerID() id.WorkerID { return w.workerID }

// Executor returns the worker's executor.
func (w *Worker) Executor() *Executor { return w.executor }

// IsLeader reports whether the worker won the last leadership election.
// Without a cluster store every worker is its own leader.
func (w *Worker) IsLeader() bool {
	if w.cluster == nil {
		return true
	}
	return w.leader.Load()
}

// Start registers the sweep tasks and launches the dequeue loops and the
// heartbeat loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if w.sweepSchedule != "" {
		if err := w.scheduler.Register(TaskRequeueExpiredLeases, w.sweepSchedule, w.leaderOnly(w.requeueExpiredLeases)); err != nil {
			return err
		}
		if err := w.scheduler.Register(TaskRepairLanes, w.sweepSchedule, w.leaderOnly(w.repairLanes)); err != nil {
			return err
		}
		if err := w.scheduler.Register(TaskCleanOldJobs, w.sweepSchedule, w.leaderOnly(w.cleanOldJobs)); err != nil {
			return err
		}
	}

	if w.cluster != nil {
		if err := w.register(ctx, cluster.WorkerActive); err != nil {
			return err
		}
	}

	if w.sweepSchedule != "" {
		if err := w.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	w.running = true

	w.logger.Info("worker starting",
		slog.String("worker_id", w.workerID.String()),
		slog.String("queue", w.manager.Name()),
		slog.Int("concurrency", w.concurrency),
		slog.Any("lanes", w.manager.Lanes()),
	)

	for range w.concurrency {
		w.wg.Add(1)
		go w.dequeueLoop()
	}

	if w.heartbeatInterval > 0 {
		w.wg.Add(1)
		go w.heartbeatLoop()
	}

	return nil
}

// Stop stops pulling jobs once each loop's current dequeue returns, then
// waits for in-flight jobs to settle. If ctx ends first, in-flight
// generations are cancelled; their attempts are refunded and the jobs go
// back to the queue without consuming an attempt.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping", slog.String("worker_id", w.workerID.String()))

	close(w.stopCh)
	if w.cluster != nil {
		if err := w.register(ctx, cluster.WorkerDraining); err != nil {
			w.logger.Warn("failed to mark worker draining", slog.String("error", err.Error()))
		}
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped gracefully")
	case <-ctx.Done():
		w.logger.Warn("worker shutdown timed out, cancelling active jobs")
		w.cancelActiveJobs()
		w.wg.Wait()
	}

	var err error
	if w.sweepSchedule != "" {
		err = w.scheduler.Stop(ctx)
	}
	if w.cluster != nil {
		w.leave(context.WithoutCancel(ctx))
	}
	return err
}

// Sweep runs the maintenance tasks once: expired leases are requeued and
// refunded, queued jobs missing from their lane are re-pushed, and jobs
// past the max age are removed.
func (w *Worker) Sweep(ctx context.Context) error {
	if err := w.requeueExpiredLeases(ctx); err != nil {
		return err
	}
	if err := w.repairLanes(ctx); err != nil {
		return err
	}
	return w.cleanOldJobs(ctx)
}

// ──────────────────────────────────────────────────
// Loops
// ──────────────────────────────────────────────────

// dequeueLoop is run by each worker goroutine.
func (w *Worker) dequeueLoop() {
	defer w.wg.Done()

	failures := 0
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		j, err := w.manager.DequeueAs(context.Background(), w.workerID, w.pollInterval)
		if err != nil {
			failures++
			delay := w.storeBackoff.Delay(failures)
			w.logger.Error("dequeue error",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", failures),
				slog.Duration("retry_in", delay),
			)
			w.sleep(delay)
			continue
		}
		failures = 0

		if j == nil {
			continue
		}

		if err := w.run(j); err != nil {
			failures++
			delay := w.storeBackoff.Delay(failures)
			w.logger.Error("job could not be settled",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			w.sleep(delay)
		}
	}
}

// run executes one dequeued job, honouring the throttle.
func (w *Worker) run(j *job.Job) error {
	lane := j.Lane(w.priorityLanes())
	userID := ""
	if req, err := job.DecodeRequest(j.Payload); err == nil {
		userID = req.UserID
	}

	if w.throttle != nil {
		if !w.throttle.Acquire(lane, userID) {
			w.logger.Debug("job throttled, requeueing",
				slog.String("job_id", j.ID.String()),
				slog.String("lane", lane),
				slog.String("user_id", userID),
			)
			if _, err := w.manager.Requeue(context.Background(), j.ID); err != nil {
				return err
			}
			w.sleep(w.pollInterval)
			return nil
		}
		defer w.throttle.Release(lane, userID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.trackJob(j.ID, cancel)
	defer w.untrackJob(j.ID)

	return w.executor.Process(ctx, j)
}

func (w *Worker) priorityLanes() bool {
	return len(w.manager.Lanes()) > 1
}

// heartbeatLoop logs the worker status and renews in-flight leases.
func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.heartbeat(context.Background())
		}
	}
}

// heartbeatConcurrency bounds parallel lease renewals.
const heartbeatConcurrency = 8

func (w *Worker) heartbeat(ctx context.Context) {
	w.activeMu.Lock()
	ids := make([]id.JobID, 0, len(w.activeJobs))
	for _, a := range w.activeJobs {
		ids = append(ids, a.id)
	}
	w.activeMu.Unlock()

	w.logger.Info("worker heartbeat",
		slog.String("worker_id", w.workerID.String()),
		slog.Int("active_jobs", len(ids)),
	)

	if w.cluster != nil {
		if err := w.register(ctx, cluster.WorkerActive); err != nil {
			w.logger.Warn("worker registration refresh failed", slog.String("error", err.Error()))
		}
	}

	if w.leaseTTL <= 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(heartbeatConcurrency)
	for _, jobID := range ids {
		g.Go(func() error {
			ok, err := w.manager.RenewLease(gctx, jobID, w.workerID, w.leaseTTL)
			if err != nil {
				w.logger.Warn("lease renewal failed",
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if !ok {
				w.logger.Warn("lease no longer held", slog.String("job_id", jobID.String()))
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // renewals log their own errors
}

// ──────────────────────────────────────────────────
// Cluster membership
// ──────────────────────────────────────────────────

// register writes this worker's registration with the given state.
func (w *Worker) register(ctx context.Context, state cluster.WorkerState) error {
	host, _ := os.Hostname() //nolint:errcheck // an empty hostname is acceptable
	return w.cluster.RegisterWorker(ctx, &cluster.Worker{
		ID:          w.workerID,
		Hostname:    host,
		Queue:       w.manager.Name(),
		Concurrency: w.concurrency,
		State:       state,
		ActiveJobs:  w.ActiveJobs(),
		LastSeen:    time.Now().UTC(),
		CreatedAt:   w.createdAt,
	}, w.registrationTTL())
}

// registrationTTL outlives a few missed heartbeats.
func (w *Worker) registrationTTL() time.Duration {
	if w.heartbeatInterval > 0 {
		return 3 * w.heartbeatInterval
	}
	return w.leaseTTL
}

// leave releases leadership and removes the registration.
func (w *Worker) leave(ctx context.Context) {
	if err := w.cluster.ReleaseLeadership(ctx, w.workerID); err != nil {
		w.logger.Warn("failed to release leadership", slog.String("error", err.Error()))
	}
	w.leader.Store(false)
	if err := w.cluster.DeregisterWorker(ctx, w.workerID); err != nil {
		w.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}
}

// leaderOnly wraps a sweep task so it runs only on the elected leader.
func (w *Worker) leaderOnly(task cron.Task) cron.Task {
	if w.cluster == nil {
		return task
	}
	return func(ctx context.Context) error {
		ok, err := w.cluster.AcquireLeadership(ctx, w.workerID, w.leaseTTL)
		if err != nil {
			return err
		}
		if was := w.leader.Swap(ok); was != ok {
			w.logger.Info("leadership changed",
				slog.String("worker_id", w.workerID.String()),
				slog.Bool("leader", ok),
			)
		}
		if !ok {
			return nil
		}
		return task(ctx)
	}
}

// ──────────────────────────────────────────────────
// Sweeps
// ──────────────────────────────────────────────────

// requeueExpiredLeases returns abandoned processing jobs to the queue and
// refunds the attempt each one was charged for.
func (w *Worker) requeueExpiredLeases(ctx context.Context) error {
	jobs, err := w.manager.RequeueExpiredLeases(ctx)
	for _, j := range jobs {
		if j.Cost > 0 {
			w.coordinator.Refund(ctx, j, j.Cost)
		}
	}
	if len(jobs) > 0 {
		w.logger.Info("requeued jobs with expired leases", slog.Int("count", len(jobs)))
	}
	return err
}

func (w *Worker) repairLanes(ctx context.Context) error {
	n, err := w.manager.RepairLanes(ctx)
	if n > 0 {
		w.logger.Info("repaired lanes", slog.Int("count", n))
	}
	return err
}

// cleanOldJobs reclaims active jobs older than the max job age.
func (w *Worker) cleanOldJobs(ctx context.Context) error {
	if w.maxJobAge <= 0 {
		return nil
	}
	n, err := w.manager.CleanOldJobs(ctx, w.maxJobAge)
	if n > 0 {
		w.logger.Info("cleaned old jobs", slog.Int("count", n))
	}
	return err
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (w *Worker) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopCh:
	}
}

func (w *Worker) trackJob(jobID id.JobID, cancel context.CancelFunc) {
	w.activeMu.Lock()
	w.activeJobs[jobID.String()] = &activeJob{id: jobID, cancel: cancel}
	w.activeMu.Unlock()
}

func (w *Worker) untrackJob(jobID id.JobID) {
	w.activeMu.Lock()
	delete(w.activeJobs, jobID.String())
	w.activeMu.Unlock()
}

// ActiveJobs returns the number of jobs this worker is running.
func (w *Worker) ActiveJobs() int {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	return len(w.activeJobs)
}

func (w *Worker) cancelActiveJobs() {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	for jobID, a := range w.activeJobs {
		w.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		a.cancel()
	}
}
