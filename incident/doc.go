// Package incident exposes jobs that exhausted their retries.
//
// A job whose last retry fails is not deleted. It moves to the failed
// state, keeps the lock of the node that ran it, and is never acquired
// again on its own. Each such job is an [Incident]: the payload, the
// final error message and the execution it belongs to are preserved for
// inspection.
//
// # Retry
//
// [Service.Retry] gives a job a fresh retry budget. The job becomes
// pending and unlocked and is picked up on the next acquisition cycle.
//
//	svc := incident.NewService(store, logger)
//	incidents, _ := svc.List(ctx, incident.ListOpts{Limit: 50})
//	_ = svc.Retry(ctx, incidents[0].JobID, 3)
package incident
