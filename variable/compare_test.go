package variable_test

import (
	"testing"
	"time"

	"github.com/xraph/bpmcore/variable"
)

func TestLike(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"abc%", "abcdef", true},
		{"abc%", "xabc", false},
		{"%abc", "xabc", true},
		{"%abc", "abcdef", false},
		{"%abc%", "xabcx", true},
		{"%abc%", "abc", true},
		{"%abc%", "ab", false},
		{"abc", "abc", true},
		{"abc", "abcd", false},
		{"a%c", "abbbc", true},
		{"a%c", "ac", true},
		{"a%a", "a", false},
		{"a%b%c", "a-b-c", true},
		{"a%b%c", "a-c-b", false},
		{"%", "", true},
		{"ABC%", "abcdef", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.s, func(t *testing.T) {
			if got := variable.Like(tt.pattern, tt.s); got != tt.want {
				t.Errorf("Like(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b variable.Value
		want bool
	}{
		{"same string", variable.String("a"), variable.String("a"), true},
		{"different string", variable.String("a"), variable.String("b"), false},
		{"number", variable.Number(42), variable.Number(42), true},
		{"bool", variable.Boolean(true), variable.Boolean(false), false},
		{"nulls", variable.Null(), variable.Null(), true},
		{"kinds differ", variable.String("42"), variable.Number(42), false},
		{"date instants", variable.Date(time.Unix(10, 0)), variable.Date(time.Unix(10, 0).In(time.FixedZone("x", 3600))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := variable.Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		a, b   variable.Value
		want   int
		wantOK bool
	}{
		{"numbers less", variable.Number(1), variable.Number(2), -1, true},
		{"numbers greater", variable.Number(3), variable.Number(2), 1, true},
		{"strings", variable.String("b"), variable.String("a"), 1, true},
		{"dates", variable.Date(time.Unix(1, 0)), variable.Date(time.Unix(2, 0)), -1, true},
		{"booleans not ordered", variable.Boolean(true), variable.Boolean(false), 0, false},
		{"kind mismatch", variable.Number(1), variable.String("1"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := variable.Compare(tt.a, tt.b)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Compare = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
