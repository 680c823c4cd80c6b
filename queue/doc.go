// Package queue implements the generation job queue on top of a
// [job.Store].
//
// The [Manager] owns the job state machine:
//
//	queued → processing → completed | failed
//	failed | processing → queued        (Retry, bounded by MaxAttempts)
//	queued | processing → cancelled     (Cancel)
//
// Producers call [Manager.Enqueue], [Manager.GetStatus] and
// [Manager.Cancel]. Workers call [Manager.DequeueAs], [Manager.UpdateStatus],
// [Manager.Retry] and [Manager.RenewLease]. Maintenance runs
// [Manager.CleanOldJobs] and [Manager.RequeueExpiredLeases].
//
// # Concurrency
//
// Every record update is a read-modify-write guarded by the record's
// version: the write goes through [job.Store.CompareAndPut] and is
// re-applied on a fresh read when another writer got there first. After
// three conflicts the operation returns genqueue.ErrVersionConflict.
//
// # Priority
//
// By default all jobs share one FIFO lane and priority only affects the
// order of [Manager.ListActive]. [WithPriorityLanes] gives each priority
// its own lane, polled high to low:
//
//	m := queue.NewManager(store,
//	    queue.WithPriorityLanes(true),
//	    queue.WithRetention(24*time.Hour),
//	)
//	jobID, err := m.Enqueue(ctx, payload, job.WithPriority(job.PriorityHigh))
//
// # Missing records
//
// A record that has expired is a normal outcome, not a failure:
// UpdateStatus, Retry and Cancel return false, GetStatus returns
// genqueue.ErrJobNotFound and Dequeue returns nil.
package queue
