// Package ext defines the extension system for genqueue.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, publishing notifications or writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: a worker moved the job to processing
//   - [JobCompleted]: job finished successfully
//   - [JobFailed]: job failed with no attempts remaining
//   - [JobRetrying]: job failed and was put back in the queue
//   - [JobCancelled]: job was cancelled before reaching a terminal state
//
// # Other Hooks
//
//   - [LedgerRefunded]: the cost of an attempt was credited back
//   - [Shutdown]: the worker is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never block the pipeline.
package ext
