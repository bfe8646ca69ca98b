package keys

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
)

// MaxKeySize bounds the encoded size of variable-length keys so that a node
// filled to capacity always fits in one page.
const MaxKeySize = 240

// Layout describes how the keys of one index are encoded and ordered.
type Layout struct {
	Type  Type
	Parts []Type // component types, Composite only
	Fold  bool   // lower-case string keys and string components before encoding
}

// NewLayout validates a scalar key type.
func NewLayout(t Type) (Layout, error) {
	if !t.Valid() || t == Composite {
		return Layout{}, errors.Wrapf(base.ErrUnsupportedIndexType, "key type %s", t)
	}
	return Layout{Type: t}, nil
}

// NewCompositeLayout validates the component types of a multi-field key.
func NewCompositeLayout(parts []Type) (Layout, error) {
	if len(parts) == 0 {
		return Layout{}, errors.Wrap(base.ErrUnsupportedIndexType, "composite key without components")
	}
	for i, p := range parts {
		if !p.Valid() || p == Composite {
			return Layout{}, errors.Wrapf(base.ErrUnsupportedIndexType, "component %d has type %s", i, p)
		}
	}
	return Layout{Type: Composite, Parts: append([]Type(nil), parts...)}, nil
}

// Width is the fixed encoded key size, or 0 for variable-length layouts.
func (l Layout) Width() int {
	return l.Type.Width()
}

// Encode converts v into the node-native encoding of this layout.
func (l Layout) Encode(v Value) ([]byte, error) {
	if l.Type == Composite {
		return l.encodeComposite(v)
	}
	if !l.Type.Accepts(v.Type) {
		return nil, errors.Wrapf(base.ErrIncompatibleKeyType, "%s key for %s index", v.Type, l.Type)
	}
	buf := appendScalar(make([]byte, 0, max(l.Width(), 16)), l.Type, v, l.Fold, false)
	if l.Width() == 0 && len(buf) > MaxKeySize {
		return nil, errors.Wrapf(base.ErrKeyTooLarge, "%d bytes, max %d", len(buf), MaxKeySize)
	}
	return buf, nil
}

// EncodeEntry encodes a key that is stored in the tree or looked up exactly.
// Unlike Encode it refuses composite prefixes: a stored prefix would compare
// equal to every key that starts with it.
func (l Layout) EncodeEntry(v Value) ([]byte, error) {
	if l.Type == Composite {
		n := 1
		if v.Type == Composite {
			n = len(v.Parts)
		}
		if n != len(l.Parts) {
			return nil, errors.Wrapf(base.ErrIncompatibleKeyType,
				"composite key has %d components, index declares %d", n, len(l.Parts))
		}
	}
	return l.Encode(v)
}

// encodeComposite packs the components in declared order. A value with fewer
// components than declared encodes a prefix, which compares equal to every
// key that starts with it.
func (l Layout) encodeComposite(v Value) ([]byte, error) {
	parts := v.Parts
	if v.Type != Composite {
		// a bare scalar is a one-component prefix
		parts = []Value{v}
	}
	if len(parts) > len(l.Parts) {
		return nil, errors.Wrapf(base.ErrIncompatibleKeyType,
			"composite key has %d components, index declares %d", len(parts), len(l.Parts))
	}
	var buf []byte
	for i, p := range parts {
		if !l.Parts[i].Accepts(p.Type) {
			return nil, errors.Wrapf(base.ErrIncompatibleKeyType,
				"component %d: %s value for %s", i, p.Type, l.Parts[i])
		}
		buf = appendScalar(buf, l.Parts[i], p, l.Fold, true)
	}
	if len(buf) > MaxKeySize {
		return nil, errors.Wrapf(base.ErrKeyTooLarge, "%d bytes, max %d", len(buf), MaxKeySize)
	}
	return buf, nil
}

func appendScalar(buf []byte, t Type, v Value, fold, prefixed bool) []byte {
	switch t.class() {
	case Bool:
		if v.Int != 0 {
			return append(buf, 1)
		}
		return append(buf, 0)
	case Int8:
		return append(buf, byte(int8(v.Int)))
	case Char, Int16:
		return binary.LittleEndian.AppendUint16(buf, uint16(v.Int))
	case Int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(int32(v.Int)))
	case Int64:
		return binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
	case Float32:
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v.Float)))
	case Float64:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
	case Ref:
		return binary.LittleEndian.AppendUint64(buf, v.Uint)
	case String:
		s := v.Str
		if fold {
			s = strings.ToLower(s)
		}
		if prefixed {
			buf = binary.AppendUvarint(buf, uint64(len(s)))
		}
		return append(buf, s...)
	case Bytes:
		if prefixed {
			buf = binary.AppendUvarint(buf, uint64(len(v.Bytes)))
		}
		return append(buf, v.Bytes...)
	default:
		panic(errors.AssertionFailedf("cannot encode key of type %s", t))
	}
}

// Decode converts an encoded key back into a Value. Case-folded strings come
// back lower-cased.
func (l Layout) Decode(key []byte) Value {
	if l.Type != Composite {
		v, _ := decodeScalar(l.Type, key, false)
		return v
	}
	parts := make([]Value, 0, len(l.Parts))
	for _, t := range l.Parts {
		if len(key) == 0 {
			break
		}
		v, n := decodeScalar(t, key, true)
		parts = append(parts, v)
		key = key[n:]
	}
	return CompositeValue(parts...)
}

func decodeScalar(t Type, b []byte, prefixed bool) (Value, int) {
	if w := t.Width(); w > len(b) {
		panic(errors.AssertionFailedf("truncated %s key: %d of %d bytes", t, len(b), w))
	}
	v := Value{Type: t}
	switch t.class() {
	case Bool, Int8:
		v.Int = int64(int8(b[0]))
		return v, 1
	case Char:
		v.Int = int64(binary.LittleEndian.Uint16(b))
		return v, 2
	case Int16:
		v.Int = int64(int16(binary.LittleEndian.Uint16(b)))
		return v, 2
	case Int32:
		v.Int = int64(int32(binary.LittleEndian.Uint32(b)))
		return v, 4
	case Int64:
		v.Int = int64(binary.LittleEndian.Uint64(b))
		return v, 8
	case Float32:
		v.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		return v, 4
	case Float64:
		v.Float = math.Float64frombits(binary.LittleEndian.Uint64(b))
		return v, 8
	case Ref:
		v.Uint = binary.LittleEndian.Uint64(b)
		return v, 8
	case String, Bytes:
		content, n := b, len(b)
		if prefixed {
			content, n = splitPrefixed(b)
		}
		if t == String {
			v.Str = string(content)
		} else {
			v.Bytes = append([]byte(nil), content...)
		}
		return v, n
	default:
		panic(errors.AssertionFailedf("cannot decode key of type %s", t))
	}
}

// splitPrefixed returns the content of a length-prefixed component and the
// total number of bytes it occupies.
func splitPrefixed(b []byte) ([]byte, int) {
	size, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < size {
		panic(errors.AssertionFailedf("malformed length prefix in composite key"))
	}
	end := n + int(size)
	return b[n:end], end
}
