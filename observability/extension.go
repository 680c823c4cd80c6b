package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// meterName is the instrumentation scope for lifecycle metrics.
const meterName = "github.com/xraph/genqueue/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobStarted     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.LedgerRefunded = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters. Register it as an extension
// to track enqueue rates, completions, failures, retries, cancellations
// and refunds. Every counter carries a priority attribute.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
	refunded  metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) // noop on error
		return c
	}
	latency, _ := meter.Float64Histogram("genqueue.job.latency",
		metric.WithDescription("Time from enqueue to completion in seconds"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		enqueued:  counter("genqueue.job.enqueued", "Jobs enqueued"),
		started:   counter("genqueue.job.started", "Jobs claimed by a worker"),
		completed: counter("genqueue.job.completed", "Jobs completed"),
		failed:    counter("genqueue.job.failed", "Jobs failed terminally"),
		retried:   counter("genqueue.job.retried", "Jobs returned to the queue for another attempt"),
		cancelled: counter("genqueue.job.cancelled", "Jobs cancelled"),
		refunded:  counter("genqueue.ledger.refunded", "Bricks refunded to users"),
		latency:   latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func priority(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("priority", string(j.Priority)))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, priority(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.started.Add(ctx, 1, priority(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.completed.Add(ctx, 1, priority(j))
	m.latency.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("priority", string(j.Priority))))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, priority(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int) error {
	m.retried.Add(ctx, 1, priority(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, priority(j))
	return nil
}

// OnLedgerRefunded implements ext.LedgerRefunded.
func (m *MetricsExtension) OnLedgerRefunded(ctx context.Context, j *job.Job, amount int64) error {
	m.refunded.Add(ctx, amount, priority(j))
	return nil
}
