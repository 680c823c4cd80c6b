// Package cron runs the queue's periodic maintenance on cron schedules.
//
// A [Scheduler] holds named tasks, each with its own schedule expression
// (standard 5-field cron or descriptors such as "@every 5m"). The worker
// registers its sweep tasks at startup:
//
//   - requeue-expired-leases: returns jobs whose processing lease lapsed
//     to the queue and refunds what they were charged
//   - repair-lanes: re-pushes queued jobs whose lane entry was lost
//   - clean-old-jobs: reclaims active jobs older than the configured age
//
// A task that is still running when its next tick arrives is skipped for
// that tick. Every worker process may run the same tasks; the queue's
// versioned writes make concurrent sweeps safe.
package cron
