// Package bpmcore is the execution core of a business-process engine. It
// schedules and safely executes asynchronous continuations (jobs) of
// in-flight process and case instances across many concurrent workers and
// engine instances, and exposes a typed query interface over live execution
// state.
//
// bpmcore is a library. Configure a store, build an engine, register job
// handlers as ordinary Go functions, and start it.
//
// # Quick Start
//
//	rt, err := bpmcore.New(
//	    bpmcore.WithStore(pgStore),
//	    bpmcore.WithConfig(cfg),
//	)
//	eng, err := engine.Build(rt)
//	engine.Register(eng, sendReminder)
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (variable, execution, task, job) defines its own store
// interface and a single backend implements all of them. Job locks are the
// only serialization point between engine instances: every change of lock
// owner or expiry is a compare-and-swap on the previously observed lock.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package bpmcore
