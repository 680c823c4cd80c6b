// Package cluster coordinates several worker processes sharing one queue.
//
// Each running worker registers itself as a [Worker] and refreshes its
// registration on every heartbeat. A registration that is not refreshed
// within its TTL lapses, so the registry only ever lists live workers.
//
// # Leader Election
//
// The maintenance sweep (requeueing expired leases and cleaning old jobs)
// must not run on every worker at once. Before each sweep a worker calls
// [Store.AcquireLeadership]; only the holder of the leadership key sweeps.
// Leadership expires after its TTL unless the holder renews it by
// acquiring again, and is released on graceful shutdown.
package cluster
