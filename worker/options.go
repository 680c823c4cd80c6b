package worker

import (
	"log/slog"
	"time"

	"github.com/xraph/genqueue/backoff"
	"github.com/xraph/genqueue/cluster"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/middleware"
)

// Option configures a Worker.
type Option func(*Worker)

// WithConcurrency sets the number of concurrent dequeue loops.
func WithConcurrency(n int) Option {
	return func(w *Worker) { w.concurrency = n }
}

// WithPollInterval bounds how long each dequeue blocks.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithGenerationTimeout sets the hard deadline for one backend call.
// Zero disables it.
func WithGenerationTimeout(d time.Duration) Option {
	return func(w *Worker) { w.generationTimeout = d }
}

// WithHeartbeatInterval sets how often the worker logs its status and
// renews in-flight leases. Zero disables the heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(w *Worker) { w.heartbeatInterval = d }
}

// WithLeaseTTL sets the lease duration granted on renewal. It should
// match the queue manager's lease TTL.
func WithLeaseTTL(d time.Duration) Option {
	return func(w *Worker) { w.leaseTTL = d }
}

// WithSweepSchedule sets the cron expression for the lease and stale-job
// sweeps. An empty expression disables them.
func WithSweepSchedule(expr string) Option {
	return func(w *Worker) { w.sweepSchedule = expr }
}

// WithMaxJobAge sets the age after which the sweep reclaims an active
// job. Zero disables the reclaim.
func WithMaxJobAge(d time.Duration) Option {
	return func(w *Worker) { w.maxJobAge = d }
}

// WithStoreBackoff sets the delay strategy applied after consecutive
// store or ledger errors.
func WithStoreBackoff(s backoff.Strategy) Option {
	return func(w *Worker) { w.storeBackoff = s }
}

// WithRetryBackoff sets the delay before a failed attempt is put back in
// the queue.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(w *Worker) { w.retryBackoff = s }
}

// WithThrottle sets the lane and user throttle.
func WithThrottle(t Throttle) Option {
	return func(w *Worker) { w.throttle = t }
}

// WithMiddleware appends middleware around the backend call. The first
// one given is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.middleware = append(w.middleware, mws...) }
}

// WithWorkerID overrides the generated worker ID.
func WithWorkerID(wid id.WorkerID) Option {
	return func(w *Worker) { w.workerID = wid }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithCluster registers the worker in a shared registry and restricts the
// scheduled sweep to the elected leader.
func WithCluster(s cluster.Store) Option {
	return func(w *Worker) { w.cluster = s }
}
