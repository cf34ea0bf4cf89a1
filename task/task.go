package task

import (
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/variable"
)

// State is the lifecycle state of a task.
type State string

const (
	// StateCreated means the task is unassigned.
	StateCreated State = "created"
	// StateClaimed means the task has an assignee.
	StateClaimed State = "claimed"
	// StateCompleted is terminal.
	StateCompleted State = "completed"
)

// Task is a human-actionable unit of work bound to one execution.
type Task struct {
	bpmcore.Entity

	ID          id.TaskID      `json:"id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	Name        string         `json:"name"`
	// Assignee is empty while the task is unclaimed.
	Assignee    string     `json:"assignee,omitempty"`
	State       State      `json:"state"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Completion is everything a store writes atomically when a task completes.
type Completion struct {
	TaskID id.TaskID
	// ExpectedState is the state the task was read in. The store rejects
	// the completion with ErrConcurrentUpdate if it changed since.
	ExpectedState State
	// ExecutionID receives Variables as local variables.
	ExecutionID id.ExecutionID
	Variables   map[string]variable.Value
	// Jobs are the continuations enqueued by the completion.
	Jobs        []*job.Job
	CompletedAt time.Time
}
