// Package job defines the job record, its state machine, enqueue options,
// and the durable store contract.
//
// # Job Record
//
// A [Job] is one generation request and its state. It progresses through:
//
//	queued → processing → completed
//	queued → processing → failed
//	queued → processing → queued (retry, bounded by MaxAttempts) → ...
//	queued|processing → cancelled (external request only)
//
// Invariants (checked by [Job.Validate]):
//   - Attempts never exceeds MaxAttempts.
//   - Result is set iff Status is completed.
//   - ErrorMessage is set iff Status is failed.
//
// Every successful write increments Version; stores reject writes whose
// expected version is stale (see [Store.CompareAndPut]).
//
// # Payload
//
// The payload is an opaque JSON object supplied by the producer and stored
// byte-for-byte. [DecodeRequest] reads the fields the worker needs
// (prompt, user_id, optional parent and fork references).
//
// # Store
//
// [Store] separates the ordering lanes from the record store so status
// lookups are O(1) and a record outlives its presence in a lane.
// Implementations live under store/.
package job
