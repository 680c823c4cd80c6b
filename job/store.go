package job

import (
	"context"
	"time"

	"github.com/xraph/genqueue/id"
)

// Store defines the durable queue store: ordering lanes, a record store
// keyed by job ID with expiring entries, and an index of active job IDs.
// Lanes and records are kept apart so a record can be polled after its ID
// has left the lane.
type Store interface {
	// PushQueue appends jobID to the tail of lane. It never blocks.
	PushQueue(ctx context.Context, lane string, jobID id.JobID) error

	// PopQueue removes and returns the head of the first non-empty lane,
	// checking lanes in order. It blocks up to timeout and returns id.Nil
	// (not an error) when nothing arrived.
	PopQueue(ctx context.Context, lanes []string, timeout time.Duration) (id.JobID, error)

	// RemoveQueued removes every occurrence of jobID from lane.
	RemoveQueued(ctx context.Context, lane string, jobID id.JobID) error

	// InQueue reports whether jobID is waiting in lane.
	InQueue(ctx context.Context, lane string, jobID id.JobID) (bool, error)

	// Length returns the number of IDs waiting across lanes.
	Length(ctx context.Context, lanes []string) (int64, error)

	// PutRecord upserts the job record and sets its expiration to ttl.
	PutRecord(ctx context.Context, j *Job, ttl time.Duration) error

	// CompareAndPut writes the record only if the stored version equals
	// expectedVersion. It returns genqueue.ErrVersionConflict on mismatch
	// and genqueue.ErrJobNotFound when no record exists.
	CompareAndPut(ctx context.Context, j *Job, expectedVersion int64, ttl time.Duration) error

	// GetRecord returns the job record or genqueue.ErrJobNotFound.
	GetRecord(ctx context.Context, jobID id.JobID) (*Job, error)

	// DeleteRecord removes the job record. Deleting a missing record is
	// not an error.
	DeleteRecord(ctx context.Context, jobID id.JobID) error

	// AddActive adds jobID to the active index.
	AddActive(ctx context.Context, jobID id.JobID) error

	// RemoveActive removes jobID from the active index.
	RemoveActive(ctx context.Context, jobID id.JobID) error

	// ListActive returns up to limit active job IDs. Zero means no limit.
	ListActive(ctx context.Context, limit int) ([]id.JobID, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
