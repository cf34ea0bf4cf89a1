package query

import (
	"fmt"
	"slices"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
)

// Field is an attribute results can be ordered by.
type Field string

const (
	FieldExecutionID   Field = "executionId"
	FieldDefinitionKey Field = "definitionKey"
	FieldDefinitionID  Field = "definitionId"
)

// ParseField converts a sort field name. The case-prefixed names of the
// REST API are accepted as aliases.
func ParseField(s string) (Field, error) {
	switch s {
	case string(FieldExecutionID), "caseExecutionId":
		return FieldExecutionID, nil
	case string(FieldDefinitionKey), "caseDefinitionKey":
		return FieldDefinitionKey, nil
	case string(FieldDefinitionID), "caseDefinitionId":
		return FieldDefinitionID, nil
	default:
		return "", fmt.Errorf("%w: cannot sort by %q", bpmcore.ErrValidation, s)
	}
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseDirection converts "asc" or "desc".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Ascending, Descending:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown sort order %q", bpmcore.ErrValidation, s)
	}
}

// Order is one directed ordering clause.
type Order struct {
	Field     Field
	Direction Direction
}

// Query is an immutable execution query. Every refinement returns a new
// Query and leaves the receiver untouched, so a base query can be shared
// between goroutines and refined independently.
//
// The first invalid refinement is recorded and reported by Err; later
// refinements are ignored. Evaluation of a query carrying an error fails
// with that error.
//
//	q := query.New().
//		DefinitionKey("oneTaskCase").
//		VariableValueLike("customer", "Acme%").
//		OrderByExecutionID().Desc()
type Query struct {
	filter  execution.Filter
	preds   []Predicate
	orders  []Order
	pending Field
	err     error
}

// New returns an empty query matching every execution.
func New() Query { return Query{} }

func (q Query) with(fn func(*Query)) Query {
	if q.err != nil {
		return q
	}
	next := q
	next.preds = slices.Clone(q.preds)
	next.orders = slices.Clone(q.orders)
	fn(&next)
	return next
}

func (q Query) fail(err error) Query {
	if q.err != nil {
		return q
	}
	q.err = err
	return q
}

// Err returns the first error recorded while building q.
func (q Query) Err() error { return q.err }

// Validate reports whether q can be evaluated. A query whose last orderBy
// was not followed by Asc or Desc fails with ErrValidation.
func (q Query) Validate() error {
	if q.err != nil {
		return q.err
	}
	if q.pending != "" {
		return fmt.Errorf("%w: order by %s has no direction, call Asc or Desc", bpmcore.ErrValidation, q.pending)
	}
	return nil
}

// Filter returns the attribute filter of q.
func (q Query) Filter() execution.Filter { return q.filter }

// Predicates returns a copy of the variable predicates of q.
func (q Query) Predicates() []Predicate { return slices.Clone(q.preds) }

// Orders returns a copy of the directed orderings of q.
func (q Query) Orders() []Order { return slices.Clone(q.orders) }

// ──────────────────────────────────────────────────
// Attribute filters
// ──────────────────────────────────────────────────

// ExecutionID restricts the query to one execution.
func (q Query) ExecutionID(execID id.ExecutionID) Query {
	if execID.IsNil() {
		return q.fail(fmt.Errorf("%w: execution id must not be empty", bpmcore.ErrValidation))
	}
	return q.with(func(n *Query) { n.filter.ExecutionID = execID })
}

// InstanceID restricts the query to executions of one instance.
func (q Query) InstanceID(instanceID id.ExecutionID) Query {
	if instanceID.IsNil() {
		return q.fail(fmt.Errorf("%w: instance id must not be empty", bpmcore.ErrValidation))
	}
	return q.with(func(n *Query) { n.filter.InstanceID = instanceID })
}

// DefinitionID restricts the query to one definition.
func (q Query) DefinitionID(definitionID string) Query {
	if definitionID == "" {
		return q.fail(fmt.Errorf("%w: definition id must not be empty", bpmcore.ErrValidation))
	}
	return q.with(func(n *Query) { n.filter.DefinitionID = definitionID })
}

// DefinitionKey restricts the query to one definition key.
func (q Query) DefinitionKey(key string) Query {
	if key == "" {
		return q.fail(fmt.Errorf("%w: definition key must not be empty", bpmcore.ErrValidation))
	}
	return q.with(func(n *Query) { n.filter.DefinitionKey = key })
}

// BusinessKey restricts the query to instances with the given business key.
func (q Query) BusinessKey(key string) Query {
	if key == "" {
		return q.fail(fmt.Errorf("%w: business key must not be empty", bpmcore.ErrValidation))
	}
	return q.with(func(n *Query) { n.filter.BusinessKey = key })
}

// ActivityID restricts the query to executions of one activity.
func (q Query) ActivityID(activityID string) Query {
	if activityID == "" {
		return q.fail(fmt.Errorf("%w: activity id must not be empty", bpmcore.ErrValidation))
	}
	return q.with(func(n *Query) { n.filter.ActivityID = activityID })
}

// State restricts the query to executions in state s.
func (q Query) State(s execution.State) Query {
	if !s.Valid() {
		return q.fail(fmt.Errorf("%w: unknown execution state %q", bpmcore.ErrValidation, s))
	}
	return q.with(func(n *Query) { n.filter.State = s })
}

// Enabled restricts the query to enabled executions.
func (q Query) Enabled() Query { return q.State(execution.StateEnabled) }

// Active restricts the query to active executions.
func (q Query) Active() Query { return q.State(execution.StateActive) }

// Disabled restricts the query to disabled executions.
func (q Query) Disabled() Query { return q.State(execution.StateDisabled) }

// ──────────────────────────────────────────────────
// Variable filters
// ──────────────────────────────────────────────────

// Where adds a pre-built predicate.
func (q Query) Where(p Predicate) Query {
	if p.name == "" {
		return q.fail(fmt.Errorf("%w: predicate was not built with NewVariablePredicate", bpmcore.ErrValidation))
	}
	return q.with(func(n *Query) { n.preds = append(n.preds, p) })
}

func (q Query) variable(scope Scope, op Operator, name string, value any) Query {
	if q.err != nil {
		return q
	}
	p, err := NewVariablePredicate(scope, op, name, value)
	if err != nil {
		return q.fail(err)
	}
	return q.Where(p)
}

// VariableValueEquals matches executions with a local variable equal to value.
func (q Query) VariableValueEquals(name string, value any) Query {
	return q.variable(ScopeLocal, OpEquals, name, value)
}

// VariableValueNotEquals matches executions with a local variable of the
// same type but a different value.
func (q Query) VariableValueNotEquals(name string, value any) Query {
	return q.variable(ScopeLocal, OpNotEquals, name, value)
}

// VariableValueGreaterThan matches local variables greater than value.
func (q Query) VariableValueGreaterThan(name string, value any) Query {
	return q.variable(ScopeLocal, OpGreaterThan, name, value)
}

// VariableValueGreaterThanOrEqual matches local variables greater than or
// equal to value.
func (q Query) VariableValueGreaterThanOrEqual(name string, value any) Query {
	return q.variable(ScopeLocal, OpGreaterThanOrEqual, name, value)
}

// VariableValueLessThan matches local variables less than value.
func (q Query) VariableValueLessThan(name string, value any) Query {
	return q.variable(ScopeLocal, OpLessThan, name, value)
}

// VariableValueLessThanOrEqual matches local variables less than or equal
// to value.
func (q Query) VariableValueLessThanOrEqual(name string, value any) Query {
	return q.variable(ScopeLocal, OpLessThanOrEqual, name, value)
}

// VariableValueLike matches local string variables against pattern, where
// % is a wildcard.
func (q Query) VariableValueLike(name string, pattern any) Query {
	return q.variable(ScopeLocal, OpLike, name, pattern)
}

// InstanceVariableValueEquals is VariableValueEquals on the instance root.
func (q Query) InstanceVariableValueEquals(name string, value any) Query {
	return q.variable(ScopeInstance, OpEquals, name, value)
}

// InstanceVariableValueNotEquals is VariableValueNotEquals on the instance root.
func (q Query) InstanceVariableValueNotEquals(name string, value any) Query {
	return q.variable(ScopeInstance, OpNotEquals, name, value)
}

// InstanceVariableValueGreaterThan is VariableValueGreaterThan on the
// instance root.
func (q Query) InstanceVariableValueGreaterThan(name string, value any) Query {
	return q.variable(ScopeInstance, OpGreaterThan, name, value)
}

// InstanceVariableValueGreaterThanOrEqual is VariableValueGreaterThanOrEqual
// on the instance root.
func (q Query) InstanceVariableValueGreaterThanOrEqual(name string, value any) Query {
	return q.variable(ScopeInstance, OpGreaterThanOrEqual, name, value)
}

// InstanceVariableValueLessThan is VariableValueLessThan on the instance root.
func (q Query) InstanceVariableValueLessThan(name string, value any) Query {
	return q.variable(ScopeInstance, OpLessThan, name, value)
}

// InstanceVariableValueLessThanOrEqual is VariableValueLessThanOrEqual on
// the instance root.
func (q Query) InstanceVariableValueLessThanOrEqual(name string, value any) Query {
	return q.variable(ScopeInstance, OpLessThanOrEqual, name, value)
}

// InstanceVariableValueLike is VariableValueLike on the instance root.
func (q Query) InstanceVariableValueLike(name string, pattern any) Query {
	return q.variable(ScopeInstance, OpLike, name, pattern)
}

// ──────────────────────────────────────────────────
// Ordering
// ──────────────────────────────────────────────────

// OrderBy starts an ordering clause on f. It must be followed by Asc or
// Desc before another OrderBy or evaluation.
func (q Query) OrderBy(f Field) Query {
	if q.pending != "" {
		return q.fail(fmt.Errorf("%w: order by %s has no direction", bpmcore.ErrValidation, q.pending))
	}
	if _, err := ParseField(string(f)); err != nil {
		return q.fail(err)
	}
	return q.with(func(n *Query) { n.pending = f })
}

// OrderByExecutionID orders by execution ID.
func (q Query) OrderByExecutionID() Query { return q.OrderBy(FieldExecutionID) }

// OrderByDefinitionKey orders by definition key.
func (q Query) OrderByDefinitionKey() Query { return q.OrderBy(FieldDefinitionKey) }

// OrderByDefinitionID orders by definition ID.
func (q Query) OrderByDefinitionID() Query { return q.OrderBy(FieldDefinitionID) }

// Asc gives the pending ordering an ascending direction.
func (q Query) Asc() Query { return q.direct(Ascending) }

// Desc gives the pending ordering a descending direction.
func (q Query) Desc() Query { return q.direct(Descending) }

func (q Query) direct(d Direction) Query {
	if q.pending == "" {
		return q.fail(fmt.Errorf("%w: %s called without a preceding order by", bpmcore.ErrValidation, d))
	}
	return q.with(func(n *Query) {
		n.orders = append(n.orders, Order{Field: n.pending, Direction: d})
		n.pending = ""
	})
}
