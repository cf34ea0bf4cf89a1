package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/bpmcore/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"ExecutionID", id.NewExecutionID, "exec_"},
		{"TaskID", id.NewTaskID, "task_"},
		{"JobID", id.NewJobID, "job_"},
		{"NodeID", id.NewNodeID, "node_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseWithMatchingPrefix(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"ExecutionID", id.NewExecutionID, id.ParseExecutionID},
		{"TaskID", id.NewTaskID, id.ParseTaskID},
		{"JobID", id.NewJobID, id.ParseJobID},
		{"NodeID", id.NewNodeID, id.ParseNodeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseExecutionID rejects task_", id.NewTaskID().String(), id.ParseExecutionID},
		{"ParseTaskID rejects job_", id.NewJobID().String(), id.ParseTaskID},
		{"ParseJobID rejects node_", id.NewNodeID().String(), id.ParseJobID},
		{"ParseNodeID rejects exec_", id.NewExecutionID().String(), id.ParseNodeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestCompare(t *testing.T) {
	a := id.NewExecutionID()
	b := id.NewExecutionID()

	if a.Compare(b) != -b.Compare(a) {
		t.Errorf("Compare is not antisymmetric for %q and %q", a, b)
	}
	if a.Compare(a) != 0 {
		t.Error("expected an ID to compare equal to itself")
	}
	if id.Nil.Compare(a) >= 0 {
		t.Error("expected Nil to sort first")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewTaskID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(""); err != nil {
		t.Fatalf("Scan(\"\") failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scanning an empty string")
	}
}

func TestUnmarshalText_Empty(t *testing.T) {
	i := id.NewJobID()
	if err := i.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !i.IsNil() {
		t.Error("expected nil after unmarshaling empty text")
	}
}
