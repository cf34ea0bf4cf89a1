package variable

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireValue is the persisted form of a Value.
type wireValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler. The kind travels with the value so
// that dates and byte arrays survive a round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.Kind()}
	var (
		raw []byte
		err error
	)
	switch v.Kind() {
	case KindNull:
		return json.Marshal(w)
	case KindString:
		raw, err = json.Marshal(v.str)
	case KindNumber:
		raw, err = json.Marshal(v.num)
	case KindBoolean:
		raw, err = json.Marshal(v.b)
	case KindDate:
		raw, err = json.Marshal(v.date.Format(time.RFC3339Nano))
	case KindBytes:
		raw, err = json.Marshal(v.raw)
	case KindObject:
		raw = v.raw
	}
	if err != nil {
		return nil, err
	}
	w.Value = raw
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Type {
	case KindNull, "":
		*v = Null()
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("variable: decode string: %w", err)
		}
		*v = String(s)
	case KindNumber:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return fmt.Errorf("variable: decode number: %w", err)
		}
		*v = Number(f)
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("variable: decode boolean: %w", err)
		}
		*v = Boolean(b)
	case KindDate:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("variable: decode date: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("variable: decode date: %w", err)
		}
		*v = Date(t)
	case KindBytes:
		var b []byte
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("variable: decode bytes: %w", err)
		}
		*v = Bytes(b)
	case KindObject:
		*v = Object(w.Value)
	default:
		return fmt.Errorf("variable: unknown type %q", w.Type)
	}
	return nil
}
