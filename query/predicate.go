package query

import (
	"fmt"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/variable"
)

// Operator is a variable comparison operator.
type Operator string

const (
	OpEquals             Operator = "eq"
	OpNotEquals          Operator = "neq"
	OpGreaterThan        Operator = "gt"
	OpGreaterThanOrEqual Operator = "gteq"
	OpLessThan           Operator = "lt"
	OpLessThanOrEqual    Operator = "lteq"
	OpLike               Operator = "like"
)

// ParseOperator converts the short operator name used by the REST layer.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpLike:
		return op, nil
	default:
		return "", fmt.Errorf("%w: unknown operator %q", bpmcore.ErrValidation, s)
	}
}

func (op Operator) ordering() bool {
	switch op {
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return true
	default:
		return false
	}
}

// Scope selects which variables a predicate is evaluated against.
type Scope string

const (
	// ScopeLocal matches variables of the execution itself.
	ScopeLocal Scope = "local"
	// ScopeInstance matches variables of the owning instance root.
	ScopeInstance Scope = "instance"
)

// Predicate is one typed comparison of a named variable. Construct it with
// NewVariablePredicate; the zero Predicate matches nothing.
type Predicate struct {
	scope Scope
	op    Operator
	name  string
	value variable.Value
}

// NewVariablePredicate builds a predicate comparing the variable `name`
// against value, whose type is inferred with variable.Of. Illegal
// combinations are rejected here rather than at evaluation:
//
//   - an empty name or unknown operator or scope is ErrValidation
//   - a byte array or serialized object value is ErrUnsupportedOperation
//   - like with a non-string value is ErrTypeMismatch
//   - an ordering operator with a boolean or null value is
//     ErrUnsupportedOperation
func NewVariablePredicate(scope Scope, op Operator, name string, value any) (Predicate, error) {
	if name == "" {
		return Predicate{}, fmt.Errorf("%w: variable name must not be empty", bpmcore.ErrValidation)
	}
	if scope != ScopeLocal && scope != ScopeInstance {
		return Predicate{}, fmt.Errorf("%w: unknown variable scope %q", bpmcore.ErrValidation, scope)
	}
	if _, err := ParseOperator(string(op)); err != nil {
		return Predicate{}, err
	}

	v, err := variable.Of(value)
	if err != nil {
		return Predicate{}, fmt.Errorf("%w: variable %q: %w", bpmcore.ErrValidation, name, err)
	}
	if !v.Comparable() {
		return Predicate{}, fmt.Errorf("%w: variable %q: values of type %s cannot be queried",
			bpmcore.ErrUnsupportedOperation, name, v.Kind())
	}

	switch {
	case op == OpLike && v.Kind() != variable.KindString:
		return Predicate{}, fmt.Errorf("%w: variable %q: like requires a string, got %s",
			bpmcore.ErrTypeMismatch, name, v.Kind())
	case op.ordering() && !variable.Ordered(v.Kind()):
		return Predicate{}, fmt.Errorf("%w: variable %q: operator %s is not defined for %s",
			bpmcore.ErrUnsupportedOperation, name, op, v.Kind())
	}

	return Predicate{scope: scope, op: op, name: name, value: v}, nil
}

// Scope returns the variable scope of p.
func (p Predicate) Scope() Scope { return p.scope }

// Operator returns the comparison operator of p.
func (p Predicate) Operator() Operator { return p.op }

// Name returns the variable name of p.
func (p Predicate) Name() string { return p.name }

// Value returns the operand of p.
func (p Predicate) Value() variable.Value { return p.value }

// Matches evaluates p against a variable map. A missing variable matches
// no operator, not even not-equals. Stored values that cannot be compared
// never match.
func (p Predicate) Matches(vars map[string]variable.Value) bool {
	if p.name == "" {
		return false
	}
	stored, ok := vars[p.name]
	if !ok || !stored.Comparable() {
		return false
	}

	switch p.op {
	case OpEquals:
		return variable.Equal(stored, p.value)
	case OpNotEquals:
		if stored.IsNull() || p.value.IsNull() {
			return stored.IsNull() != p.value.IsNull()
		}
		return stored.Kind() == p.value.Kind() && !variable.Equal(stored, p.value)
	case OpLike:
		s, isString := stored.Str()
		pattern, _ := p.value.Str()
		return isString && variable.Like(pattern, s)
	}

	cmp, ok := variable.Compare(stored, p.value)
	if !ok {
		return false
	}
	switch p.op {
	case OpGreaterThan:
		return cmp > 0
	case OpGreaterThanOrEqual:
		return cmp >= 0
	case OpLessThan:
		return cmp < 0
	case OpLessThanOrEqual:
		return cmp <= 0
	default:
		return false
	}
}

// String renders p in the REST encoding name_op_value.
func (p Predicate) String() string {
	return fmt.Sprintf("%s_%s_%s", p.name, p.op, p.value)
}
