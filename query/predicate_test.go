package query_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/query"
	"github.com/xraph/bpmcore/variable"
)

func TestNewVariablePredicate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		op      query.Operator
		varName string
		value   any
		wantErr error
	}{
		{"empty name", query.OpEquals, "", "x", bpmcore.ErrValidation},
		{"unknown operator", query.Operator("between"), "a", 1, bpmcore.ErrValidation},
		{"like on number", query.OpLike, "a", 42, bpmcore.ErrTypeMismatch},
		{"like on boolean", query.OpLike, "a", true, bpmcore.ErrTypeMismatch},
		{"gt on boolean", query.OpGreaterThan, "a", true, bpmcore.ErrUnsupportedOperation},
		{"lteq on boolean", query.OpLessThanOrEqual, "a", false, bpmcore.ErrUnsupportedOperation},
		{"lt on null", query.OpLessThan, "a", nil, bpmcore.ErrUnsupportedOperation},
		{"bytes value", query.OpEquals, "a", []byte("x"), bpmcore.ErrUnsupportedOperation},
		{"object value", query.OpEquals, "a", map[string]any{"k": 1}, bpmcore.ErrUnsupportedOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.NewVariablePredicate(query.ScopeLocal, tt.op, tt.varName, tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewVariablePredicate_Allowed(t *testing.T) {
	tests := []struct {
		name  string
		op    query.Operator
		value any
	}{
		{"eq boolean", query.OpEquals, true},
		{"neq boolean", query.OpNotEquals, false},
		{"eq null", query.OpEquals, nil},
		{"gt number", query.OpGreaterThan, 1},
		{"lt date", query.OpLessThan, time.Now()},
		{"gteq string", query.OpGreaterThanOrEqual, "m"},
		{"like string", query.OpLike, "a%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := query.NewVariablePredicate(query.ScopeInstance, tt.op, "v", tt.value); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPredicate_Matches(t *testing.T) {
	vars := map[string]variable.Value{
		"name":    variable.String("abcdef"),
		"amount":  variable.Number(42),
		"flag":    variable.Boolean(true),
		"nothing": variable.Null(),
		"blob":    variable.Bytes([]byte("abc")),
	}

	tests := []struct {
		name    string
		op      query.Operator
		varName string
		value   any
		want    bool
	}{
		{"eq string", query.OpEquals, "name", "abcdef", true},
		{"eq kind mismatch", query.OpEquals, "amount", "42", false},
		{"neq string", query.OpNotEquals, "name", "x", true},
		{"neq same", query.OpNotEquals, "amount", 42, false},
		{"neq kind mismatch", query.OpNotEquals, "amount", "x", false},
		{"neq missing variable", query.OpNotEquals, "missing", "x", false},
		{"eq missing variable", query.OpEquals, "missing", nil, false},
		{"eq null", query.OpEquals, "nothing", nil, true},
		{"neq null on set", query.OpNotEquals, "name", nil, true},
		{"gt", query.OpGreaterThan, "amount", 41, true},
		{"gt equal", query.OpGreaterThan, "amount", 42, false},
		{"gteq equal", query.OpGreaterThanOrEqual, "amount", 42, true},
		{"lt", query.OpLessThan, "amount", 43, true},
		{"lteq", query.OpLessThanOrEqual, "amount", 41, false},
		{"gt string", query.OpGreaterThan, "name", "abc", true},
		{"like prefix", query.OpLike, "name", "abc%", true},
		{"like suffix", query.OpLike, "name", "%abc", false},
		{"eq boolean", query.OpEquals, "flag", true, true},
		{"like on non-string stored", query.OpLike, "amount", "4%", false},
		{"stored bytes never match", query.OpEquals, "blob", "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := query.NewVariablePredicate(query.ScopeLocal, tt.op, tt.varName, tt.value)
			if err != nil {
				t.Fatalf("NewVariablePredicate: %v", err)
			}
			if got := p.Matches(vars); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestZeroPredicateMatchesNothing(t *testing.T) {
	var p query.Predicate
	if p.Matches(map[string]variable.Value{"": variable.String("x")}) {
		t.Fatal("zero predicate should match nothing")
	}
}
