package cluster

import (
	"context"
	"time"

	"github.com/xraph/genqueue/id"
)

// Store defines the persistence contract for the worker registry and
// leader election.
type Store interface {
	// RegisterWorker adds or replaces w in the registry. The entry lapses
	// after ttl unless refreshed by another RegisterWorker call.
	RegisterWorker(ctx context.Context, w *Worker, ttl time.Duration) error

	// DeregisterWorker removes a worker from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns the live workers ordered by creation time.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// AcquireLeadership makes workerID the leader if nobody holds the
	// leadership, or extends it if workerID already does. It reports
	// whether workerID is the leader afterwards.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseLeadership gives up the leadership if workerID holds it.
	ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error

	// Leader returns the current leader, or id.Nil when there is none.
	Leader(ctx context.Context) (id.WorkerID, error)
}
