package variable

import (
	"context"

	"github.com/xraph/bpmcore/id"
)

// Store persists variables keyed by (scope execution ID, name). The scope is
// either an execution (local variables) or an instance root execution.
type Store interface {
	// GetVariables returns all variables of a scope. A scope without
	// variables yields an empty map.
	GetVariables(ctx context.Context, scopeID id.ExecutionID) (map[string]Value, error)

	// SetVariables upserts the given variables into a scope in one atomic
	// write. Existing variables not named in vars are left untouched.
	SetVariables(ctx context.Context, scopeID id.ExecutionID, vars map[string]Value) error
}

// Clone returns a shallow copy of a variable map. Values are immutable so
// sharing them is safe.
func Clone(vars map[string]Value) map[string]Value {
	out := make(map[string]Value, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
