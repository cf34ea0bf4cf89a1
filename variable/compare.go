package variable

import (
	"bytes"
	"strings"
)

// Equal reports whether a and b hold the same kind and value. Values of
// different kinds are never equal; two nulls are.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindNull:
		return true
	case KindString:
		return a.str == b.str
	case KindNumber:
		return a.num == b.num
	case KindBoolean:
		return a.b == b.b
	case KindDate:
		return a.date.Equal(b.date)
	default:
		return bytes.Equal(a.raw, b.raw)
	}
}

// Compare orders two values of the same ordered kind (string, number,
// date). ok is false when the kinds differ or are not ordered.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.Kind() != b.Kind() {
		return 0, false
	}
	switch a.Kind() {
	case KindString:
		return strings.Compare(a.str, b.str), true
	case KindNumber:
		switch {
		case a.num < b.num:
			return -1, true
		case a.num > b.num:
			return 1, true
		}
		return 0, true
	case KindDate:
		return a.date.Compare(b.date), true
	default:
		return 0, false
	}
}

// Ordered reports whether values of kind k support <, <=, >, >=.
func Ordered(k Kind) bool {
	switch k {
	case KindString, KindNumber, KindDate:
		return true
	default:
		return false
	}
}

// Like matches s against pattern, where % stands for any run of characters
// (including none). Every other character matches itself, case-sensitively.
//
//	Like("abc%", "abcdef")  // true
//	Like("%abc", "xabc")    // true
//	Like("%abc%", "abc")    // true
func Like(pattern, s string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return pattern == s
	}

	first, last := parts[0], parts[len(parts)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	if len(s) < len(last) || !strings.HasSuffix(s, last) {
		return false
	}
	s = s[:len(s)-len(last)]

	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		i := strings.Index(s, mid)
		if i < 0 {
			return false
		}
		s = s[i+len(mid):]
	}
	return true
}
