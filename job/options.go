package job

// Options configures per-job behavior fixed at enqueue time.
type Options struct {
	// MaxAttempts is the retry budget. Attempts never exceed it.
	MaxAttempts int

	// Priority orders the job in ListActive and, with priority lanes
	// enabled, in dequeue.
	Priority Priority
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Priority:    PriorityNormal,
	}
}

// Option is a functional option for configuring an enqueued job.
type Option func(*Options)

// WithMaxAttempts sets the retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}
