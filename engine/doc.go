// Package engine wires the bpmcore subsystems together and provides the
// application-level API for registering handlers and enqueuing jobs.
//
// The root bpmcore package defines Entity, Config, and the error kinds,
// which every subsystem imports, so it cannot import those subsystems
// back. Engine sits above all of them and below the application layer.
//
// # Building an Engine
//
//	rt, err := bpmcore.New(
//	    bpmcore.WithStore(pgStore),
//	    bpmcore.WithConfig(cfg),
//	)
//
//	eng, err := engine.Build(rt,
//	    engine.WithExtension(auditExt),
//	    engine.WithContinuation(next),
//	    engine.WithLocker(exclusive.NewRedisLocker(rdb)),
//	)
//
// # Registering and Enqueuing
//
//	engine.Register(eng, job.NewDefinition("send-invoice", sendInvoice))
//	engine.Enqueue(ctx, eng, "send-invoice", Invoice{ID: 42},
//	    job.WithExecution(execID, instanceID))
//
// Enqueuing a job that is already due wakes the acquisition loop early.
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] appends a middleware to the execution chain
//   - [WithContinuation] sets the task completion continuation
//   - [WithLocker] sets the per-instance locker used when Config.Exclusive is on
//   - [WithMetricsRegisterer] sets the Prometheus registerer of the metrics extension
//   - [WithTracerProvider] and [WithMeterProvider] override the global OTel providers
package engine
