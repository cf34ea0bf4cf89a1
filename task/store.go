package task

import (
	"context"

	"github.com/xraph/bpmcore/id"
)

// Store defines the persistence contract for tasks.
type Store interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// AssignTask sets the assignee and state of a task whose stored state
	// is expected. It fails with ErrConcurrentUpdate otherwise.
	AssignTask(ctx context.Context, taskID id.TaskID, expected State, assignee string, next State) error

	// CompleteTask marks a task completed, writes the completion variables
	// to the execution, and enqueues the completion jobs in one
	// transaction. Either all of it is persisted or none of it.
	CompleteTask(ctx context.Context, c *Completion) error
}
