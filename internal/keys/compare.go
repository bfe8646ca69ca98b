package keys

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
)

// Compare orders two encoded keys of this layout. Composite keys compare
// component by component and stop at the first difference; when either key
// runs out of components the keys compare equal, so a prefix matches every
// key that starts with it.
func (l Layout) Compare(a, b []byte) int {
	if l.Type != Composite {
		return compareScalar(l.Type, a, b)
	}
	for _, t := range l.Parts {
		if len(a) == 0 || len(b) == 0 {
			return 0
		}
		if w := t.Width(); w != 0 {
			if len(a) < w || len(b) < w {
				panic(errors.AssertionFailedf("truncated %s component", t))
			}
			if c := compareScalar(t, a[:w], b[:w]); c != 0 {
				return c
			}
			a, b = a[w:], b[w:]
			continue
		}
		ca, na := splitPrefixed(a)
		cb, nb := splitPrefixed(b)
		if c := bytes.Compare(ca, cb); c != 0 {
			return c
		}
		a, b = a[na:], b[nb:]
	}
	return 0
}

func compareScalar(t Type, a, b []byte) int {
	switch t.class() {
	case Bool:
		return cmp.Compare(a[0], b[0])
	case Int8:
		return cmp.Compare(int8(a[0]), int8(b[0]))
	case Char:
		return cmp.Compare(binary.LittleEndian.Uint16(a), binary.LittleEndian.Uint16(b))
	case Int16:
		return cmp.Compare(int16(binary.LittleEndian.Uint16(a)), int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return cmp.Compare(int32(binary.LittleEndian.Uint32(a)), int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		return cmp.Compare(int64(binary.LittleEndian.Uint64(a)), int64(binary.LittleEndian.Uint64(b)))
	case Float32:
		return cmp.Compare(
			math.Float32frombits(binary.LittleEndian.Uint32(a)),
			math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return cmp.Compare(
			math.Float64frombits(binary.LittleEndian.Uint64(a)),
			math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case Ref:
		return cmp.Compare(binary.LittleEndian.Uint64(a), binary.LittleEndian.Uint64(b))
	case String, Bytes:
		// content first, then length: a proper prefix sorts first
		return bytes.Compare(a, b)
	default:
		panic(errors.AssertionFailedf("cannot compare keys of type %s", t))
	}
}
