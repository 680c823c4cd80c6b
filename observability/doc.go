// Package observability provides an OpenTelemetry metrics extension for
// genqueue. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job enqueue, start, completion, failure,
// retry and cancellation, plus the bricks refunded to users.
//
// For per-call tracing and metrics around the generation backend, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
