package genqueue

import "time"

// Config holds configuration for the queue, the worker, and the ledger
// coordinator. It is read once at startup. The env tags name the
// variables internal/config reads, under the GENQUEUE_ prefix.
type Config struct {
	// QueueName namespaces every key the queue writes to the store.
	QueueName string `env:"QUEUE_NAME"`

	// RedisURL is the durable queue store address, e.g.
	// "redis://localhost:6379/0".
	RedisURL string `env:"REDIS_URL"`

	// LedgerDriver selects the ledger backend: "postgres", "sqlite" or
	// "memory".
	LedgerDriver string `env:"LEDGER_DRIVER"`

	// LedgerDSN is the connection string for the ledger backend.
	LedgerDSN string `env:"LEDGER_DSN"`

	// BackendEndpoint is the base URL of the generation backend.
	BackendEndpoint string `env:"BACKEND_ENDPOINT"`

	// Model is the model identifier sent to the generation backend.
	Model string `env:"MODEL"`

	// Concurrency is the number of jobs one worker process runs at once.
	Concurrency int `env:"CONCURRENCY"`

	// PollInterval bounds how long a single dequeue blocks.
	PollInterval time.Duration `env:"POLL_INTERVAL"`

	// GenerationTimeout is the hard deadline for one generation call.
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT"`

	// MaxAttempts is the default retry budget for new jobs.
	MaxAttempts int `env:"MAX_ATTEMPTS"`

	// Retention is how long a job record survives after its last write.
	Retention time.Duration `env:"RETENTION"`

	// HeartbeatInterval is how often the worker logs its status and renews
	// the leases of in-flight jobs.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`

	// LeaseTTL is how long a processing lease lasts without renewal.
	LeaseTTL time.Duration `env:"LEASE_TTL"`

	// SweepSchedule is a cron expression for the stale-job sweep.
	SweepSchedule string `env:"SWEEP_SCHEDULE"`

	// MaxJobAge is the age after which CleanOldJobs reclaims an active job.
	MaxJobAge time.Duration `env:"MAX_JOB_AGE"`

	// TokensPerBrick converts estimated tokens into ledger units.
	TokensPerBrick int64 `env:"TOKENS_PER_BRICK"`

	// PriorityLanes enables real high/normal/low dequeue ordering. When
	// false, every job shares one FIFO lane and priority only affects
	// ListActive ordering.
	PriorityLanes bool `env:"PRIORITY_LANES"`

	// ShutdownTimeout is the maximum time to wait for in-flight jobs.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	// AMQPURL enables lifecycle notifications over AMQP when set.
	AMQPURL string `env:"AMQP_URL"`

	// AMQPExchange is the exchange lifecycle notifications go to.
	AMQPExchange string `env:"AMQP_EXCHANGE"`

	// AMQPEvents limits the published event types. Empty publishes all.
	AMQPEvents []string `env:"AMQP_EVENTS" envSeparator:","`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueName:         "generation",
		RedisURL:          "redis://localhost:6379/0",
		LedgerDriver:      "postgres",
		BackendEndpoint:   "http://localhost:11434",
		Model:             "llama3",
		Concurrency:       1,
		PollInterval:      1 * time.Second,
		GenerationTimeout: 2 * time.Minute,
		MaxAttempts:       3,
		Retention:         24 * time.Hour,
		HeartbeatInterval: 30 * time.Second,
		LeaseTTL:          5 * time.Minute,
		SweepSchedule:     "@every 5m",
		MaxJobAge:         1 * time.Hour,
		TokensPerBrick:    100,
		ShutdownTimeout:   30 * time.Second,
		AMQPExchange:      "genqueue.events",
	}
}
