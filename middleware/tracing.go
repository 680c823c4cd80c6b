package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/scope"
)

// tracerName is the instrumentation scope name for genqueue tracing.
const tracerName = "github.com/xraph/genqueue"

// Tracing wraps the generation call in a span from the global
// TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// The span is named genqueue.job.generate and carries the job, attempt,
// user and prompt size; the outcome is set when the call returns.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "genqueue.job.generate",
			trace.WithAttributes(
				attribute.String("genqueue.job.id", j.ID.String()),
				attribute.String("genqueue.job.priority", string(j.Priority)),
				attribute.Int("genqueue.job.attempt", j.Attempts+1),
				attribute.Int("genqueue.job.max_attempts", j.MaxAttempts),
				attribute.String("genqueue.user.id", scope.UserFrom(ctx)),
				attribute.Int("genqueue.prompt.chars", promptChars(j)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("genqueue.generation.outcome", Outcome(err)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
