// Package variable implements typed execution variables: a tagged-union
// Value, comparison and pattern matching between values, and the store
// contract for variables scoped to an execution.
//
// Strings, numbers, booleans, dates, and null are comparable. Byte arrays
// and serialized objects can be stored but never compared; predicates over
// them are rejected when they are built.
package variable

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Kind tags the type held by a Value.
type Kind string

const (
	KindNull    Kind = "null"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindDate    Kind = "date"
	KindBytes   Kind = "bytes"
	KindObject  Kind = "object"
)

// Value is an immutable typed variable value. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	date time.Time
	raw  []byte
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Boolean returns a boolean value.
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Date returns a date value normalized to UTC.
func Date(t time.Time) Value { return Value{kind: KindDate, date: t.UTC()} }

// Bytes returns a byte-array value. The slice is copied.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte(nil), b...)}
}

// Object returns a serialized object value holding raw JSON.
func Object(raw json.RawMessage) Value {
	return Value{kind: KindObject, raw: append([]byte(nil), raw...)}
}

// Of infers a Value from a Go value. Integer and float types become
// numbers, time.Time becomes a date, []byte becomes bytes, and anything
// else that is not a primitive is serialized as a JSON object.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Boolean(x), nil
	case int:
		return Number(float64(x)), nil
	case int8:
		return Number(float64(x)), nil
	case int16:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return finiteNumber(float64(x))
	case float64:
		return finiteNumber(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("variable: number %q: %w", x, err)
		}
		return Number(f), nil
	case time.Time:
		return Date(x), nil
	case *time.Time:
		if x == nil {
			return Null(), nil
		}
		return Date(*x), nil
	case []byte:
		return Bytes(x), nil
	case json.RawMessage:
		return Object(x), nil
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return Value{}, fmt.Errorf("variable: serialize %T: %w", v, err)
		}
		return Object(raw), nil
	}
}

func finiteNumber(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("variable: number %v is not finite", f)
	}
	return Number(f), nil
}

// MustOf is like Of but panics on error. Use for literals in tests and
// static definitions.
func MustOf(v any) Value {
	val, err := Of(v)
	if err != nil {
		panic(err)
	}
	return val
}

// OfMap converts every entry of m with Of.
func OfMap(m map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(m))
	for name, raw := range m {
		v, err := Of(raw)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// Kind returns the tag of v.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// Comparable reports whether v may take part in a query predicate.
func (v Value) Comparable() bool {
	switch v.Kind() {
	case KindBytes, KindObject:
		return false
	default:
		return true
	}
}

// Str returns the string held by v and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the number held by v and whether v is a number.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean held by v and whether v is a boolean.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBoolean }

// Time returns the date held by v and whether v is a date.
func (v Value) Time() (time.Time, bool) { return v.date, v.kind == KindDate }

// Raw returns a copy of the bytes of a bytes or object value.
func (v Value) Raw() []byte { return append([]byte(nil), v.raw...) }

// Interface returns v as a plain Go value suitable for JSON responses.
func (v Value) Interface() any {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.b
	case KindDate:
		return v.date
	case KindBytes:
		return v.Raw()
	case KindObject:
		return json.RawMessage(v.Raw())
	default:
		return nil
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindDate:
		return v.date.Format(time.RFC3339Nano)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.raw))
	case KindObject:
		return string(v.raw)
	default:
		return "null"
	}
}
