package keys

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Value is an application-level key before encoding. Only the field matching
// Type is meaningful.
type Value struct {
	Type  Type
	Int   int64   // Bool (0/1), Int8, Char, Int16, Int32, Int64, Date, Enum
	Uint  uint64  // Ref
	Float float64 // Float32, Float64
	Str   string
	Bytes []byte
	Parts []Value // Composite
}

func BoolValue(v bool) Value {
	if v {
		return Value{Type: Bool, Int: 1}
	}
	return Value{Type: Bool}
}

func Int8Value(v int8) Value { return Value{Type: Int8, Int: int64(v)} }
func CharValue(v uint16) Value { return Value{Type: Char, Int: int64(v)} }
func Int16Value(v int16) Value { return Value{Type: Int16, Int: int64(v)} }
func Int32Value(v int32) Value { return Value{Type: Int32, Int: int64(v)} }
func Int64Value(v int64) Value { return Value{Type: Int64, Int: v} }
func Float32Value(v float32) Value { return Value{Type: Float32, Float: float64(v)} }
func Float64Value(v float64) Value { return Value{Type: Float64, Float: v} }
func StringValue(v string) Value { return Value{Type: String, Str: v} }
func BytesValue(v []byte) Value { return Value{Type: Bytes, Bytes: v} }
func EnumValue(v int32) Value { return Value{Type: Enum, Int: int64(v)} }
func RefValue(v uint64) Value { return Value{Type: Ref, Uint: v} }

// DateValue stores t as Unix milliseconds.
func DateValue(t time.Time) Value { return Value{Type: Date, Int: t.UnixMilli()} }

func CompositeValue(parts ...Value) Value {
	return Value{Type: Composite, Parts: parts}
}

// Time returns the instant held by a Date value.
func (v Value) Time() time.Time {
	return time.UnixMilli(v.Int)
}

// Equal reports whether two values hold the same type and content.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case Float32, Float64:
		return v.Float == o.Float
	case String:
		return v.Str == o.Str
	case Bytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case Ref:
		return v.Uint == o.Uint
	case Composite:
		if len(v.Parts) != len(o.Parts) {
			return false
		}
		for i := range v.Parts {
			if !v.Parts[i].Equal(o.Parts[i]) {
				return false
			}
		}
		return true
	default:
		return v.Int == o.Int
	}
}

func (v Value) String() string {
	switch v.Type {
	case Bool:
		return fmt.Sprint(v.Int != 0)
	case Char:
		return fmt.Sprintf("%q", rune(v.Int))
	case Float32, Float64:
		return fmt.Sprint(v.Float)
	case String:
		return fmt.Sprintf("%q", v.Str)
	case Bytes:
		return fmt.Sprintf("%x", v.Bytes)
	case Date:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case Ref:
		return fmt.Sprintf("@%d", v.Uint)
	case Composite:
		parts := make([]string, len(v.Parts))
		for i, p := range v.Parts {
			parts[i] = p.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case Invalid:
		return "<none>"
	default:
		return fmt.Sprint(v.Int)
	}
}
