package queue

import (
	"log/slog"
	"time"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// Option configures a Manager.
type Option func(*Manager)

// WithQueueName sets the queue name reported in logs. Key namespacing is
// configured on the store.
func WithQueueName(name string) Option {
	return func(m *Manager) { m.name = name }
}

// WithRetention sets how long a record survives after its last write.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithLeaseTTL sets the processing lease granted on dequeue. Zero
// disables leases.
func WithLeaseTTL(d time.Duration) Option {
	return func(m *Manager) { m.leaseTTL = d }
}

// WithPriorityLanes enables real high, normal, low dequeue order. When
// disabled every job shares one FIFO lane.
func WithPriorityLanes(enabled bool) Option {
	return func(m *Manager) { m.priorityLanes = enabled }
}

// WithDefaultMaxAttempts sets the retry budget for jobs enqueued without
// job.WithMaxAttempts.
func WithDefaultMaxAttempts(n int) Option {
	return func(m *Manager) { m.defaults.MaxAttempts = n }
}

// WithDefaultPriority sets the priority for jobs enqueued without
// job.WithPriority.
func WithDefaultPriority(p job.Priority) Option {
	return func(m *Manager) { m.defaults.Priority = p }
}

// WithExtensions sets the registry notified of lifecycle events.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.extensions = r }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the clock used for timestamps, leases and ages.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}
