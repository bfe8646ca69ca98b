// Package keys converts typed index keys into the byte encoding stored in tree
// nodes and orders those encodings.
package keys

import "fmt"

// Type identifies the key type of an index or of a single key value.
type Type uint8

const (
	Invalid Type = iota
	Bool
	Int8
	Char
	Int16
	Int32
	Int64
	Float32
	Float64
	String
	Bytes
	Date
	Enum
	Ref
	Composite
)

var typeNames = [...]string{
	Invalid:   "invalid",
	Bool:      "bool",
	Int8:      "byte",
	Char:      "char",
	Int16:     "short",
	Int32:     "int",
	Int64:     "long",
	Float32:   "float",
	Float64:   "double",
	String:    "string",
	Bytes:     "bytes",
	Date:      "date",
	Enum:      "enum",
	Ref:       "reference",
	Composite: "composite",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t names a known key type.
func (t Type) Valid() bool {
	return t > Invalid && t <= Composite
}

// Width is the encoded size of a fixed-width type, or 0 for variable-length
// types (String, Bytes, Composite).
func (t Type) Width() int {
	switch t {
	case Bool, Int8:
		return 1
	case Char, Int16:
		return 2
	case Int32, Float32, Enum:
		return 4
	case Int64, Float64, Date, Ref:
		return 8
	default:
		return 0
	}
}

// class folds types that share a storage representation: dates are stored
// as longs and enum ordinals as ints.
func (t Type) class() Type {
	switch t {
	case Date:
		return Int64
	case Enum:
		return Int32
	default:
		return t
	}
}

// Accepts reports whether a value of type v may be used as a key of an index
// declared with type t.
func (t Type) Accepts(v Type) bool {
	return t == v || t.class() == v.class()
}
