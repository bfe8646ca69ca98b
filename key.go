package ordex

import (
	"time"

	"github.com/alexhholmes/ordex/internal/keys"
)

// ObjectID identifies a stored object. Index entries map keys to ObjectIDs.
type ObjectID uint64

// KeyType is the type of an index's keys.
type KeyType = keys.Type

const (
	TypeBool      = keys.Bool
	TypeByte      = keys.Int8
	TypeChar      = keys.Char
	TypeShort     = keys.Int16
	TypeInt       = keys.Int32
	TypeLong      = keys.Int64
	TypeFloat     = keys.Float32
	TypeDouble    = keys.Float64
	TypeString    = keys.String
	TypeBytes     = keys.Bytes
	TypeDate      = keys.Date
	TypeEnum      = keys.Enum
	TypeRef       = keys.Ref
	TypeComposite = keys.Composite
)

// Key is a typed key value. When used as a range bound it also says whether
// the bound itself belongs to the range; keys are inclusive unless made
// Exclusive. The zero Key is NoBound.
type Key struct {
	v         keys.Value
	exclusive bool
}

// NoBound leaves one end of a range open.
var NoBound = Key{}

func BoolKey(v bool) Key { return Key{v: keys.BoolValue(v)} }

func ByteKey(v int8) Key { return Key{v: keys.Int8Value(v)} }

func CharKey(v uint16) Key { return Key{v: keys.CharValue(v)} }

func ShortKey(v int16) Key { return Key{v: keys.Int16Value(v)} }

func IntKey(v int32) Key { return Key{v: keys.Int32Value(v)} }

func LongKey(v int64) Key { return Key{v: keys.Int64Value(v)} }

func FloatKey(v float32) Key { return Key{v: keys.Float32Value(v)} }

func DoubleKey(v float64) Key { return Key{v: keys.Float64Value(v)} }

func StringKey(v string) Key { return Key{v: keys.StringValue(v)} }

func BytesKey(v []byte) Key { return Key{v: keys.BytesValue(v)} }

// DateKey keys by t with millisecond precision.
func DateKey(t time.Time) Key { return Key{v: keys.DateValue(t)} }

// EnumKey keys by the ordinal of an enumeration constant.
func EnumKey(ordinal int32) Key { return Key{v: keys.EnumValue(ordinal)} }

// RefKey keys by the identity of another object.
func RefKey(id ObjectID) Key { return Key{v: keys.RefValue(uint64(id))} }

// CompositeKey builds a multi-field key from its components in declared
// order. Fewer components than the index declares form a prefix that matches
// every key starting with them. Inclusion flags of the components are
// ignored.
func CompositeKey(parts ...Key) Key {
	vs := make([]keys.Value, len(parts))
	for i, p := range parts {
		vs[i] = p.v
	}
	return Key{v: keys.CompositeValue(vs...)}
}

// Exclusive returns k as a bound that excludes k itself.
func (k Key) Exclusive() Key {
	k.exclusive = true
	return k
}

// Inclusive returns k as a bound that includes k itself.
func (k Key) Inclusive() Key {
	k.exclusive = false
	return k
}

// IsInclusive reports whether k as a bound includes itself.
func (k Key) IsInclusive() bool { return !k.exclusive }

// IsBound reports whether k holds a value, i.e. is not NoBound.
func (k Key) IsBound() bool { return k.v.Type != keys.Invalid }

// Type returns the type of the key value.
func (k Key) Type() KeyType { return k.v.Type }

// Value returns the key as a Go value: bool, int8, uint16, int16, int32,
// int64, float32, float64, string, []byte, time.Time, int32 for enums,
// ObjectID for references and []any for composite keys.
func (k Key) Value() any {
	return goValue(k.v)
}

func goValue(v keys.Value) any {
	switch v.Type {
	case keys.Bool:
		return v.Int != 0
	case keys.Int8:
		return int8(v.Int)
	case keys.Char:
		return uint16(v.Int)
	case keys.Int16:
		return int16(v.Int)
	case keys.Int32, keys.Enum:
		return int32(v.Int)
	case keys.Int64:
		return v.Int
	case keys.Float32:
		return float32(v.Float)
	case keys.Float64:
		return v.Float
	case keys.String:
		return v.Str
	case keys.Bytes:
		return v.Bytes
	case keys.Date:
		return v.Time()
	case keys.Ref:
		return ObjectID(v.Uint)
	case keys.Composite:
		parts := make([]any, len(v.Parts))
		for i, p := range v.Parts {
			parts[i] = goValue(p)
		}
		return parts
	default:
		return nil
	}
}

// Equal reports whether two keys hold the same typed value. Inclusion flags
// are ignored.
func (k Key) Equal(o Key) bool { return k.v.Equal(o.v) }

func (k Key) String() string {
	s := k.v.String()
	if k.exclusive {
		s += " (exclusive)"
	}
	return s
}
