package store

import (
	"context"

	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/task"
	"github.com/xraph/bpmcore/variable"
)

// Store is the aggregate persistence interface.
// A single backend implements all subsystem stores, which is what lets
// task completion write variables, task state, and jobs in one
// transaction.
type Store interface {
	variable.Store
	execution.Store
	task.Store
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
