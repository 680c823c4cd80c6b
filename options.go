package genqueue

import (
	"context"
	"fmt"
	"log/slog"
)

// Option configures a Service.
type Option func(*Service) error

// Storer is the minimal store interface held by the Service. It covers
// lifecycle operations only; the engine package type-asserts it to
// job.Store.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// workerRunner is an internal interface for worker lifecycle.
type workerRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Service is the long-running process: it owns the store handle and runs
// the worker until stopped.
//
// Create one with New() and functional options. The Service holds its
// subsystems through internal interfaces to avoid import cycles; use
// engine.Build to wire everything together.
type Service struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	worker     workerRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Service with the given options.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the service's logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Store returns the service's store.
func (s *Service) Store() Storer { return s.store }

// Config returns a copy of the service's configuration.
func (s *Service) Config() Config { return s.config }

// SetWorker sets the worker (called by the engine package).
func (s *Service) SetWorker(w workerRunner) { s.worker = w }

// SetExtensions sets the extension emitter (called by the engine package).
func (s *Service) SetExtensions(e extensionEmitter) { s.extensions = e }

// Start verifies the store is reachable and starts the worker.
func (s *Service) Start(ctx context.Context) error {
	if s.store == nil || s.worker == nil {
		return ErrNoStore
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.worker.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop drains the worker within ctx, emits the shutdown hook and closes
// the store.
func (s *Service) Stop(ctx context.Context) error {
	if s.worker != nil && s.started {
		if err := s.worker.Stop(ctx); err != nil {
			s.logger.Error("worker stop error", slog.String("error", err.Error()))
		}
		s.started = false
	}
	if s.extensions != nil {
		s.extensions.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) error {
		s.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of jobs the worker runs at once.
func WithConcurrency(n int) Option {
	return func(s *Service) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithQueueName sets the queue namespace.
func WithQueueName(name string) Option {
	return func(s *Service) error {
		s.config.QueueName = name
		return nil
	}
}

// WithLogger sets the structured logger for the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the durable queue store. The store must also implement
// job.Store for engine.Build to accept it.
func WithStore(st Storer) Option {
	return func(s *Service) error {
		s.store = st
		return nil
	}
}
