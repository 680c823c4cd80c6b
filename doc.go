// Package genqueue provides a durable job queue and worker for long-running
// content-generation tasks. Producers enqueue generation requests, one or
// more worker processes execute them against a text-generation backend, and
// every attempt is charged to (and, on failure, refunded from) a balance
// ledger.
//
// # Architecture
//
// The queue is split into three concerns, each with its own package:
//
//   - job: the Job record, its state machine, and the durable store contract
//     (ordering lanes, record store, active index, expiring keys).
//   - queue: the Manager used by producers and workers to enqueue, dequeue,
//     update, retry, cancel, and inspect jobs.
//   - worker: the long-running loop that dequeues, debits, generates, and
//     finalizes jobs, with graceful shutdown.
//
// Balance accounting lives in the ledger package and the generation call in
// the generate package. The engine package wires everything together from a
// Service. The stream, notify and observability packages subscribe to job
// lifecycle events; cluster elects one worker to run maintenance sweeps.
//
// # Quick Start
//
//	st := redisstore.New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//	svc, err := genqueue.New(genqueue.WithStore(st))
//	eng, err := engine.Build(svc, memledger.New(), backend)
//	err = eng.Start(ctx)
//	jobID, err := eng.Manager().EnqueueRequest(ctx, job.GenerationRequest{
//	    Prompt: "a haiku about queues",
//	    UserID: "usr_42",
//	})
//
// All job IDs are prefix-qualified ("job_...") and carry 122 bits of
// cryptographic randomness, so they are safe to hand out to clients for
// status polling.
package genqueue
