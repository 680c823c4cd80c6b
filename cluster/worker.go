package cluster

import (
	"time"

	"github.com/xraph/genqueue/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and dequeuing jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight jobs and
	// no longer dequeuing (graceful shutdown).
	WorkerDraining WorkerState = "draining"
)

// Worker is one running worker process.
type Worker struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Queue       string      `json:"queue"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`
	ActiveJobs  int         `json:"active_jobs"`
	IsLeader    bool        `json:"is_leader,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
}
