// Package jsonvalue is a closed tagged variant for decoded JSON documents.
//
// Objects keep their members in document order, so any walk over a Value is
// deterministic: the same bytes always produce the same traversal.
package jsonvalue

import (
	"math"
	"strconv"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Member is one key/value pair of an object.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. The zero Value is JSON null.
//
// Numbers are kept as their literal text so integers beyond float64 precision
// survive a decode/encode cycle unchanged.
type Value struct {
	kind    Kind
	b       bool
	s       string
	elems   []Value
	members []Member
	index   map[string]int
}

// NullValue returns JSON null.
func NullValue() Value { return Value{} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// NumberLiteral wraps a JSON number literal. The literal is not validated;
// Decode only produces well-formed literals.
func NumberLiteral(lit string) Value { return Value{kind: Number, s: lit} }

// IntValue wraps an integer.
func IntValue(n int64) Value { return NumberLiteral(strconv.FormatInt(n, 10)) }

// FloatValue wraps a float. NaN and infinities have no JSON form and become null.
func FloatValue(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NullValue()
	}
	return NumberLiteral(strconv.FormatFloat(f, 'g', -1, 64))
}

// ArrayValue wraps a sequence of values.
func ArrayValue(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: Array, elems: elems}
}

// ObjectValue builds an object from members in the given order. A repeated
// key keeps its first position and takes the last value, matching how
// encoding/json resolves duplicates.
func ObjectValue(members ...Member) Value {
	out := Value{kind: Object, members: make([]Member, 0, len(members)), index: make(map[string]int, len(members))}
	for _, m := range members {
		if i, ok := out.index[m.Key]; ok {
			out.members[i].Value = m.Value
			continue
		}
		out.index[m.Key] = len(out.members)
		out.members = append(out.members, m)
	}
	return out
}

func (v Value) Kind() Kind { return v.kind }

// IsScalar reports whether v is null, a bool, a number or a string.
func (v Value) IsScalar() bool { return v.kind != Array && v.kind != Object }

func (v Value) IsNull() bool { return v.kind == Null }

// Bool returns the boolean payload; false for other kinds.
func (v Value) Bool() bool { return v.kind == Bool && v.b }

// Str returns the string payload; "" for other kinds.
func (v Value) Str() string {
	if v.kind != String {
		return ""
	}
	return v.s
}

// Literal returns the number literal; "" for other kinds.
func (v Value) Literal() string {
	if v.kind != Number {
		return ""
	}
	return v.s
}

// Int64 returns the number as an int64 when the literal is an integer that fits.
func (v Value) Int64() (int64, bool) {
	if v.kind != Number {
		return 0, false
	}
	n, err := strconv.ParseInt(v.s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float64 returns the number as a float64.
func (v Value) Float64() (float64, bool) {
	if v.kind != Number {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// IsInteger reports whether v is a number with an integral value.
func (v Value) IsInteger() bool {
	if _, ok := v.Int64(); ok {
		return true
	}
	f, ok := v.Float64()
	return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
}

// Elems returns array elements; nil for other kinds.
func (v Value) Elems() []Value {
	if v.kind != Array {
		return nil
	}
	return v.elems
}

// Members returns object members in document order; nil for other kinds.
func (v Value) Members() []Member {
	if v.kind != Object {
		return nil
	}
	return v.members
}

// Len is the element count of an array or member count of an object.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.elems)
	case Object:
		return len(v.members)
	default:
		return 0
	}
}

// Get looks up an object member by key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	i, ok := v.index[key]
	if !ok {
		return Value{}, false
	}
	return v.members[i].Value, true
}

// Keys returns object keys in document order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	out := make([]string, len(v.members))
	for i, m := range v.members {
		out[i] = m.Key
	}
	return out
}

// Interface converts v into the shapes encoding/json produces when decoding
// into an any: nil, bool, float64, string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		f, _ := v.Float64()
		return f
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.elems))
		for i, e := range v.elems {
			out[i] = e.Interface()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.members))
		for _, m := range v.members {
			out[m.Key] = m.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep structural equality. Numbers compare by value, object
// members compare regardless of order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case String:
		return a.s == b.s
	case Number:
		if a.s == b.s {
			return true
		}
		fa, okA := a.Float64()
		fb, okB := b.Float64()
		return okA && okB && fa == fb
	case Array:
		if len(a.elems) != len(b.elems) {
			return false
		}
		for i := range a.elems {
			if !Equal(a.elems[i], b.elems[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.members) != len(b.members) {
			return false
		}
		for _, m := range a.members {
			other, ok := b.Get(m.Key)
			if !ok || !Equal(m.Value, other) {
				return false
			}
		}
		return true
	}
	return false
}
