package execution

import (
	"context"

	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/variable"
)

// Filter narrows a snapshot to executions matching every non-zero field.
// Stores may apply it to cut the read; the query engine re-applies it.
type Filter struct {
	ExecutionID   id.ExecutionID
	InstanceID    id.ExecutionID
	DefinitionID  string
	DefinitionKey string
	BusinessKey   string
	ActivityID    string
	State         State
}

// Matches reports whether e satisfies f.
func (f Filter) Matches(e *Execution) bool {
	switch {
	case !f.ExecutionID.IsNil() && f.ExecutionID.String() != e.ID.String():
		return false
	case !f.InstanceID.IsNil() && f.InstanceID.String() != e.InstanceScope().String():
		return false
	case f.DefinitionID != "" && f.DefinitionID != e.DefinitionID:
		return false
	case f.DefinitionKey != "" && f.DefinitionKey != e.DefinitionKey:
		return false
	case f.BusinessKey != "" && f.BusinessKey != e.BusinessKey:
		return false
	case f.ActivityID != "" && f.ActivityID != e.ActivityID:
		return false
	case f.State != "" && f.State != e.State:
		return false
	}
	return true
}

// Snapshot is an execution together with its local variables and the
// variables of its instance root, all read at the same point in time.
type Snapshot struct {
	Execution *Execution
	Local     map[string]variable.Value
	Instance  map[string]variable.Value
}

// Store defines the persistence contract for executions.
type Store interface {
	// CreateExecution persists a new execution.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// TransitionExecution changes the state of an execution from `from`
	// to `to`. It fails with ErrConcurrentUpdate when the stored state is
	// not `from`.
	TransitionExecution(ctx context.Context, execID id.ExecutionID, from, to State) error

	// SnapshotExecutions returns every execution matching f with its
	// variables in one consistent read. A concurrent writer is either
	// fully visible or not visible at all.
	SnapshotExecutions(ctx context.Context, f Filter) ([]Snapshot, error)
}
