// Package middleware provides composable middleware around the generation
// call the worker makes for each job.
//
// A [Middleware] is a function that wraps a [Handler]. Middleware are
// composed into a chain using [Chain] and applied around every call.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs job ID, attempt, duration and outcome
//   - [Recover] turns panics into errors
//   - [Timeout] bounds the call with a hard deadline
//   - [Tracing] wraps the call in an OpenTelemetry span
//   - [Metrics] records call duration and outcome counters
//   - [User] restores the requesting user into the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
