// Package job defines the job record, its lock, typed definitions, and the
// store contract the acquisition engine coordinates through.
//
// # Lifecycle
//
// A [Job] is a durable unit of asynchronous work bound to an execution:
//
//	enqueued (pending) → due → locked by a node → executed
//	    success            → deleted
//	    failure, retries   → unlocked, retries-1, re-acquirable next cycle
//	    failure, exhausted → failed, still locked, inert until retries are reset
//
// The lock is a pair of owner node and expiry. A lock that has expired is
// treated as absent, which is how work held by a crashed node is recovered.
// Stores change locks only by compare-and-swap against the lock the caller
// observed ([Store.LockJob]), never by blind overwrite.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var Escalate = job.NewDefinition("escalate",
//	    func(ctx context.Context, in EscalateInput) error {
//	        j, _ := job.FromContext(ctx)
//	        return notify(ctx, j.ExecutionID, in.Level)
//	    },
//	    job.WithRetries(5),
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, Escalate)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
