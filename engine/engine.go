package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/backoff"
	"github.com/xraph/genqueue/cluster"
	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/generate"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/ledger"
	mw "github.com/xraph/genqueue/middleware"
	"github.com/xraph/genqueue/observability"
	"github.com/xraph/genqueue/queue"
	"github.com/xraph/genqueue/worker"
)

// Engine wraps a Service with typed subsystem access.
// Use Build() to create one from a Service.
type Engine struct {
	svc         *genqueue.Service
	extensions  *ext.Registry
	manager     *queue.Manager
	coordinator *ledger.Coordinator
	ledger      ledger.Ledger
	worker      *worker.Worker
	mws         []mw.Middleware
	throttle    worker.Throttle
	cluster     cluster.Store
	retry       backoff.Strategy
	logger      *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the generation chain, inside the
// defaults.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithThrottle sets the lane and user throttle applied by the worker.
func WithThrottle(t worker.Throttle) Option {
	return func(eng *Engine) {
		eng.throttle = t
	}
}

// WithCluster registers the worker in the shared registry and restricts
// the scheduled sweep to the elected leader. The job stores implement
// cluster.Store.
func WithCluster(s cluster.Store) Option {
	return func(eng *Engine) {
		eng.cluster = s
	}
}

// WithRetryBackoff sets the delay before a failed attempt is requeued.
// If not set, backoff.RetryStrategy() is used.
func WithRetryBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.retry = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Service. The Service's store
// must implement job.Store.
func Build(svc *genqueue.Service, l ledger.Ledger, b generate.Backend, opts ...Option) (*Engine, error) {
	logger := svc.Logger()
	store := svc.Store()

	if store == nil {
		return nil, genqueue.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("genqueue/engine: store does not implement job.Store")
	}
	if l == nil {
		return nil, fmt.Errorf("genqueue/engine: no ledger configured")
	}
	if b == nil {
		return nil, fmt.Errorf("genqueue/engine: no generation backend configured")
	}

	eng := &Engine{
		svc:        svc,
		extensions: ext.NewRegistry(logger),
		ledger:     l,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.retry == nil {
		eng.retry = backoff.RetryStrategy()
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/genqueue"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/genqueue"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/xraph/genqueue/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	cfg := svc.Config()

	eng.manager = queue.NewManager(js,
		queue.WithQueueName(cfg.QueueName),
		queue.WithRetention(cfg.Retention),
		queue.WithLeaseTTL(cfg.LeaseTTL),
		queue.WithPriorityLanes(cfg.PriorityLanes),
		queue.WithDefaultMaxAttempts(cfg.MaxAttempts),
		queue.WithExtensions(eng.extensions),
		queue.WithLogger(logger),
	)

	eng.coordinator = ledger.NewCoordinator(l,
		ledger.WithTokensPerBrick(cfg.TokensPerBrick),
		ledger.WithExtensions(eng.extensions),
		ledger.WithLogger(logger),
	)

	// Default middleware stack: recover → user → tracing → metrics → logging.
	// The worker adds the generation timeout innermost.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		mw.User(),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	workerOpts := []worker.Option{
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithGenerationTimeout(cfg.GenerationTimeout),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithLeaseTTL(cfg.LeaseTTL),
		worker.WithSweepSchedule(cfg.SweepSchedule),
		worker.WithMaxJobAge(cfg.MaxJobAge),
		worker.WithRetryBackoff(eng.retry),
		worker.WithMiddleware(allMws...),
		worker.WithLogger(logger),
	}
	if eng.throttle != nil {
		workerOpts = append(workerOpts, worker.WithThrottle(eng.throttle))
	}
	if eng.cluster != nil {
		workerOpts = append(workerOpts, worker.WithCluster(eng.cluster))
	}
	eng.worker = worker.New(eng.manager, eng.coordinator, b, workerOpts...)

	// Wire back into the Service.
	svc.SetWorker(eng.worker)
	svc.SetExtensions(eng.extensions)

	return eng, nil
}

// Start verifies the store and starts the worker.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.svc.Start(ctx)
}

// Stop drains the worker, closes the store and then the ledger when it
// holds a connection.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.svc.Stop(ctx)
	if c, ok := eng.ledger.(io.Closer); ok {
		if closeErr := c.Close(); closeErr != nil {
			eng.logger.Error("ledger close error", slog.String("error", closeErr.Error()))
		}
	}
	return err
}

// Service returns the underlying Service.
func (eng *Engine) Service() *genqueue.Service { return eng.svc }

// Manager returns the queue manager used by producers and the worker.
func (eng *Engine) Manager() *queue.Manager { return eng.manager }

// Coordinator returns the ledger coordinator.
func (eng *Engine) Coordinator() *ledger.Coordinator { return eng.coordinator }

// Ledger returns the balance ledger.
func (eng *Engine) Ledger() ledger.Ledger { return eng.ledger }

// Worker returns the worker.
func (eng *Engine) Worker() *worker.Worker { return eng.worker }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }
