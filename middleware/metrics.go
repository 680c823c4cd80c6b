package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/genqueue/job"
)

// meterName is the instrumentation scope name for genqueue metrics.
const meterName = "github.com/xraph/genqueue"

// Metrics records generation calls on the global MeterProvider; without
// one the instruments are noop.
//
// Instruments:
//   - genqueue.generation.duration (Float64Histogram, s)
//   - genqueue.generation.calls (Int64Counter)
//   - genqueue.generation.prompt_chars (Int64Histogram)
//
// Duration and calls carry priority, outcome (see [Outcome]) and
// final_attempt, which is true when a failure would fail the job.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"genqueue.generation.duration",
		metric.WithDescription("Duration of generation calls in seconds"),
		metric.WithUnit("s"),
	)
	calls, _ := meter.Int64Counter(
		"genqueue.generation.calls",
		metric.WithDescription("Total number of generation calls"),
		metric.WithUnit("{call}"),
	)
	prompts, _ := meter.Int64Histogram(
		"genqueue.generation.prompt_chars",
		metric.WithDescription("Prompt length of generation calls in characters"),
		metric.WithUnit("{char}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		if n := promptChars(j); n >= 0 {
			prompts.Record(ctx, int64(n),
				metric.WithAttributes(attribute.String("priority", string(j.Priority))))
		}

		start := time.Now()
		err := next(ctx)

		attrs := metric.WithAttributes(
			attribute.String("priority", string(j.Priority)),
			attribute.String("outcome", Outcome(err)),
			attribute.Bool("final_attempt", j.Attempts+1 >= j.MaxAttempts),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		calls.Add(ctx, 1, attrs)

		return err
	}
}
