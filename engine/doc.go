// Package engine wires the genqueue subsystems together. It creates the
// extension registry, queue manager, ledger coordinator, middleware chain
// and worker from a Service and its Config.
//
// This package exists to break the import cycle: the root genqueue package
// defines the sentinel errors imported by every subsystem and so cannot
// import those packages back. The engine package sits above all subsystem
// packages and below the application layer.
//
// # Building an Engine
//
//	svc, err := genqueue.New(
//	    genqueue.WithConfig(cfg),
//	    genqueue.WithStore(redisstore.New(client, redisstore.WithNamespace(cfg.QueueName))),
//	)
//
//	eng, err := engine.Build(svc, ledgerStore, generate.NewHTTPBackend(cfg.BackendEndpoint, cfg.Model),
//	    engine.WithExtension(notify.New(publisher)),
//	    engine.WithThrottle(limiter),
//	    engine.WithMeterProvider(mp),
//	)
//
// # Producing and running jobs
//
//	jobID, err := eng.Manager().EnqueueRequest(ctx, job.GenerationRequest{
//	    Prompt: "a haiku about queues",
//	    UserID: "usr_42",
//	}, job.WithPriority(job.PriorityHigh))
//
//	err = eng.Start(ctx)  // worker loops, heartbeat, sweeps
//	err = eng.Stop(ctx)   // graceful drain bounded by ctx
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware around the generation call
//   - [WithThrottle]: limit job starts per lane and per user
//   - [WithCluster]: join the worker registry and sweep only as leader
//   - [WithRetryBackoff]: set the delay before a failed attempt is requeued
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
