// Package config loads the process configuration once at startup from
// GENQUEUE_* environment variables, falling back to a .env file and then
// to genqueue.DefaultConfig. Variables map onto genqueue.Config through
// its env struct tags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/cron"
)

// Environment variable names.
const (
	EnvFile              = "GENQUEUE_ENV_FILE"
	EnvQueueName         = "GENQUEUE_QUEUE_NAME"
	EnvRedisURL          = "GENQUEUE_REDIS_URL"
	EnvLedgerDriver      = "GENQUEUE_LEDGER_DRIVER"
	EnvLedgerDSN         = "GENQUEUE_LEDGER_DSN"
	EnvBackendEndpoint   = "GENQUEUE_BACKEND_ENDPOINT"
	EnvModel             = "GENQUEUE_MODEL"
	EnvConcurrency       = "GENQUEUE_CONCURRENCY"
	EnvPollInterval      = "GENQUEUE_POLL_INTERVAL"
	EnvGenerationTimeout = "GENQUEUE_GENERATION_TIMEOUT"
	EnvMaxAttempts       = "GENQUEUE_MAX_ATTEMPTS"
	EnvRetention         = "GENQUEUE_RETENTION"
	EnvHeartbeatInterval = "GENQUEUE_HEARTBEAT_INTERVAL"
	EnvLeaseTTL          = "GENQUEUE_LEASE_TTL"
	EnvSweepSchedule     = "GENQUEUE_SWEEP_SCHEDULE"
	EnvMaxJobAge         = "GENQUEUE_MAX_JOB_AGE"
	EnvTokensPerBrick    = "GENQUEUE_TOKENS_PER_BRICK"
	EnvPriorityLanes     = "GENQUEUE_PRIORITY_LANES"
	EnvShutdownTimeout   = "GENQUEUE_SHUTDOWN_TIMEOUT"
	EnvAMQPURL           = "GENQUEUE_AMQP_URL"
	EnvAMQPExchange      = "GENQUEUE_AMQP_EXCHANGE"
	EnvAMQPEvents        = "GENQUEUE_AMQP_EVENTS"
	EnvLogFormat         = "GENQUEUE_LOG_FORMAT"
	EnvLogLevel          = "GENQUEUE_LOG_LEVEL"
)

// Prefix is prepended to the env tag of every genqueue.Config field.
const Prefix = "GENQUEUE_"

// LookupFunc returns the value of a variable and whether it is set.
type LookupFunc func(key string) (string, bool)

// Load reads the .env file named by GENQUEUE_ENV_FILE, or the nearest
// .env found walking up from the working directory, and builds the
// Config. Real environment variables win over the file.
func Load() (genqueue.Config, error) {
	environ := map[string]string{}

	path := os.Getenv(EnvFile)
	if path == "" {
		path = findDotEnv()
	}
	if path != "" {
		vals, err := godotenv.Read(path)
		if err != nil {
			return genqueue.Config{}, fmt.Errorf("genqueue/config: read %s: %w", path, err)
		}
		environ = vals
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}

	return FromEnvironment(environ)
}

// FromEnvironment applies every GENQUEUE_* variable in environ on top of
// genqueue.DefaultConfig and validates the result. Values are trimmed;
// an empty value keeps the default, except GENQUEUE_SWEEP_SCHEDULE where
// it disables the sweep.
func FromEnvironment(environ map[string]string) (genqueue.Config, error) {
	trimmed := make(map[string]string, len(environ))
	for k, v := range environ {
		if strings.HasPrefix(k, Prefix) {
			trimmed[k] = strings.TrimSpace(v)
		}
	}

	cfg := genqueue.DefaultConfig()
	err := env.ParseWithOptions(&cfg, env.Options{Environment: trimmed, Prefix: Prefix})
	if v, ok := trimmed[EnvSweepSchedule]; ok && v == "" {
		cfg.SweepSchedule = ""
	}
	cfg.AMQPEvents = compact(cfg.AMQPEvents)

	if err := errors.Join(describe(err), Validate(cfg)); err != nil {
		return genqueue.Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func Validate(cfg genqueue.Config) error {
	var errs []error
	if cfg.QueueName == "" {
		errs = append(errs, errors.New("queue name must not be empty"))
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency))
	}
	if cfg.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max attempts must not be negative, got %d", cfg.MaxAttempts))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if cfg.TokensPerBrick < 1 {
		errs = append(errs, fmt.Errorf("tokens per brick must be at least 1, got %d", cfg.TokensPerBrick))
	}
	switch cfg.LedgerDriver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver))
	}
	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseSchedule(cfg.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("sweep schedule %q: %w", cfg.SweepSchedule, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("genqueue/config: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from GENQUEUE_LOG_FORMAT ("json"
// or "text") and GENQUEUE_LOG_LEVEL.
func NewLogger(w io.Writer, lookup LookupFunc) *slog.Logger {
	level := slog.LevelInfo
	if v, ok := lookup(EnvLogLevel); ok {
		_ = level.UnmarshalText([]byte(v)) //nolint:errcheck // unknown levels keep info
	}
	opts := &slog.HandlerOptions{Level: level}

	if v, _ := lookup(EnvLogFormat); strings.EqualFold(v, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// findDotEnv walks up to five directories from the working directory.
func findDotEnv() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for range 5 {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
	return ""
}

// describe rewrites per-field parse errors to name the variable that
// held the bad value.
func describe(err error) error {
	if err == nil {
		return nil
	}
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return fmt.Errorf("genqueue/config: %w", err)
	}

	fields := reflect.TypeOf(genqueue.Config{})
	errs := make([]error, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		var pe env.ParseError
		if errors.As(e, &pe) {
			if f, ok := fields.FieldByName(pe.Name); ok {
				e = fmt.Errorf("%s%s: %w", Prefix, f.Tag.Get("env"), pe.Err)
			}
		}
		errs = append(errs, e)
	}
	return fmt.Errorf("genqueue/config: %w", errors.Join(errs...))
}

// compact trims list items and drops empty ones.
func compact(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
