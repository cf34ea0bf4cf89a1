package execution

import (
	"fmt"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
)

// State is the lifecycle state of a case execution.
type State string

const (
	// StateEnabled means the execution may be started.
	StateEnabled State = "enabled"
	// StateActive means the execution is running.
	StateActive State = "active"
	// StateDisabled means the execution was switched off and must be
	// re-enabled before it can start.
	StateDisabled State = "disabled"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateEnabled, StateActive, StateDisabled:
		return true
	default:
		return false
	}
}

// ParseState converts a string into a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown execution state %q", bpmcore.ErrValidation, s)
	}
	return st, nil
}

// transitions lists the allowed state changes. There is no way back from
// active, and disabled can only be left through enabled.
var transitions = map[State][]State{
	StateEnabled:  {StateActive, StateDisabled},
	StateDisabled: {StateEnabled},
}

// CanTransition reports whether an execution may move from one state to
// another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Execution is a running process or case instance, or a sub-scope of one.
type Execution struct {
	bpmcore.Entity

	ID id.ExecutionID `json:"id"`

	// InstanceID is the root execution of the instance this execution
	// belongs to. A root execution carries its own ID here.
	InstanceID id.ExecutionID `json:"instance_id"`
	ParentID   id.ExecutionID `json:"parent_id,omitempty"`

	DefinitionID  string `json:"definition_id"`
	DefinitionKey string `json:"definition_key"`
	BusinessKey   string `json:"business_key,omitempty"`
	ActivityID    string `json:"activity_id,omitempty"`
	State         State  `json:"state"`
}

// IsInstance reports whether e is the root of its instance.
func (e *Execution) IsInstance() bool {
	return e.InstanceID.IsNil() || e.InstanceID.String() == e.ID.String()
}

// InstanceScope returns the variable scope of the owning instance root.
func (e *Execution) InstanceScope() id.ExecutionID {
	if e.InstanceID.IsNil() {
		return e.ID
	}
	return e.InstanceID
}

// NewInstance creates a root execution in the enabled state.
func NewInstance(definitionID, definitionKey, businessKey string) *Execution {
	execID := id.NewExecutionID()
	return &Execution{
		Entity:        bpmcore.NewEntity(),
		ID:            execID,
		InstanceID:    execID,
		DefinitionID:  definitionID,
		DefinitionKey: definitionKey,
		BusinessKey:   businessKey,
		State:         StateEnabled,
	}
}

// NewChild creates an execution for activityID nested under parent. The
// child inherits the instance and definition of its parent.
func NewChild(parent *Execution, activityID string) *Execution {
	return &Execution{
		Entity:        bpmcore.NewEntity(),
		ID:            id.NewExecutionID(),
		InstanceID:    parent.InstanceScope(),
		ParentID:      parent.ID,
		DefinitionID:  parent.DefinitionID,
		DefinitionKey: parent.DefinitionKey,
		BusinessKey:   parent.BusinessKey,
		ActivityID:    activityID,
		State:         StateEnabled,
	}
}
