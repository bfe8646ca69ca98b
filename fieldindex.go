package ordex

import (
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/keys"
)

// Persistent is an object with a stable identity.
type Persistent interface {
	OID() ObjectID
}

// Enum is implemented by enumeration types indexed by ordinal.
type Enum interface {
	Ordinal() int32
}

var (
	timeType       = reflect.TypeFor[time.Time]()
	persistentType = reflect.TypeFor[Persistent]()
	enumType       = reflect.TypeFor[Enum]()
)

// field is one indexed field: the reflect path to it and its key type
type field struct {
	name  string
	index [][]int // field indexes per path segment
	kind  keys.Type
}

// FieldIndex indexes objects of type T by the values of some of their
// fields. One field gives a scalar index, several a composite index over the
// fields in the given order. The index stores object identities only.
type FieldIndex[T Persistent] struct {
	*Index
	fields []field
}

// NewFieldIndex opens an index over the named exported fields of T, which
// must be a struct or a pointer to one. A name may be a dot path into
// nested structs. Unsigned fields of 32 bits or more are indexed as long
// keys; a uint or uint64 value above math.MaxInt64 is refused with
// ErrIncompatibleKeyType when the object is indexed.
func NewFieldIndex[T Persistent](names []string, unique bool, options ...Option) (*FieldIndex[T], error) {
	if len(names) == 0 {
		return nil, errors.Wrap(base.ErrUnsupportedIndexType, "field index without fields")
	}
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(base.ErrUnsupportedIndexType, "%s is not a struct", t)
	}

	fields := make([]field, len(names))
	for i, name := range names {
		f, err := resolveField(t, name)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}

	var (
		idx *Index
		err error
	)
	if len(fields) == 1 {
		idx, err = New(fields[0].kind, unique, options...)
	} else {
		types := make([]KeyType, len(fields))
		for i, f := range fields {
			types[i] = f.kind
		}
		idx, err = NewComposite(types, unique, options...)
	}
	if err != nil {
		return nil, err
	}
	return &FieldIndex[T]{Index: idx, fields: fields}, nil
}

func resolveField(t reflect.Type, name string) (field, error) {
	f := field{name: name}
	cur := t
	for _, seg := range strings.Split(name, ".") {
		for cur.Kind() == reflect.Pointer {
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return f, errors.Wrapf(base.ErrIndexedFieldNotFound, "%s: %s is not a struct", name, cur)
		}
		sf, ok := cur.FieldByName(seg)
		if !ok || !sf.IsExported() {
			return f, errors.Wrapf(base.ErrIndexedFieldNotFound, "%s has no exported field %s", cur, seg)
		}
		f.index = append(f.index, sf.Index)
		cur = sf.Type
	}

	kind, err := keyTypeOf(cur)
	if err != nil {
		return f, errors.Wrapf(err, "field %s", name)
	}
	f.kind = kind
	return f, nil
}

// keyTypeOf maps a Go field type to the key type that orders it
func keyTypeOf(t reflect.Type) (keys.Type, error) {
	switch {
	case t == timeType:
		return keys.Date, nil
	case (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && t.Implements(persistentType):
		return keys.Ref, nil
	case t.Implements(enumType):
		return keys.Enum, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return keys.Bool, nil
	case reflect.Int8:
		return keys.Int8, nil
	case reflect.Uint8, reflect.Int16:
		return keys.Int16, nil
	case reflect.Uint16:
		return keys.Char, nil
	case reflect.Int32:
		return keys.Int32, nil
	case reflect.Uint32, reflect.Uint, reflect.Uint64, reflect.Int, reflect.Int64:
		return keys.Int64, nil
	case reflect.Float32:
		return keys.Float32, nil
	case reflect.Float64:
		return keys.Float64, nil
	case reflect.String:
		return keys.String, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return keys.Bytes, nil
		}
	}
	return keys.Invalid, errors.Wrapf(base.ErrUnsupportedIndexType, "type %s has no key ordering", t)
}

// KeyOf extracts the index key of obj.
func (fi *FieldIndex[T]) KeyOf(obj T) (Key, error) {
	root := reflect.ValueOf(obj)
	parts := make([]keys.Value, len(fi.fields))
	for i, f := range fi.fields {
		v, err := f.value(root)
		if err != nil {
			return NoBound, err
		}
		parts[i] = v
	}
	if len(parts) == 1 {
		return Key{v: parts[0]}, nil
	}
	return Key{v: keys.CompositeValue(parts...)}, nil
}

func (f field) value(v reflect.Value) (keys.Value, error) {
	for _, index := range f.index {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return keys.Value{}, errors.Wrapf(base.ErrIndexedFieldNotFound, "nil pointer on path %s", f.name)
			}
			v = v.Elem()
		}
		next, err := v.FieldByIndexErr(index)
		if err != nil {
			return keys.Value{}, errors.Wrapf(base.ErrIndexedFieldNotFound, "%s: %v", f.name, err)
		}
		v = next
	}

	switch f.kind {
	case keys.Date:
		return keys.DateValue(v.Interface().(time.Time)), nil
	case keys.Ref:
		if v.IsNil() {
			return keys.RefValue(0), nil
		}
		return keys.RefValue(uint64(v.Interface().(Persistent).OID())), nil
	case keys.Enum:
		return keys.EnumValue(v.Interface().(Enum).Ordinal()), nil
	case keys.Bool:
		return keys.BoolValue(v.Bool()), nil
	case keys.Int8:
		return keys.Int8Value(int8(v.Int())), nil
	case keys.Int16:
		if v.CanUint() {
			return keys.Int16Value(int16(v.Uint())), nil
		}
		return keys.Int16Value(int16(v.Int())), nil
	case keys.Char:
		return keys.CharValue(uint16(v.Uint())), nil
	case keys.Int32:
		return keys.Int32Value(int32(v.Int())), nil
	case keys.Int64:
		if v.CanUint() {
			u := v.Uint()
			if u > math.MaxInt64 {
				return keys.Value{}, errors.Wrapf(base.ErrIncompatibleKeyType,
					"field %s: %d overflows a long key", f.name, u)
			}
			return keys.Int64Value(int64(u)), nil
		}
		return keys.Int64Value(v.Int()), nil
	case keys.Float32:
		return keys.Float32Value(float32(v.Float())), nil
	case keys.Float64:
		return keys.Float64Value(v.Float()), nil
	case keys.String:
		return keys.StringValue(v.String()), nil
	case keys.Bytes:
		return keys.BytesValue(v.Bytes()), nil
	default:
		panic(errors.AssertionFailedf("field %s has key type %s", f.name, f.kind))
	}
}

// Put indexes obj. A unique index already holding obj's key is left
// unchanged and Put reports false.
func (fi *FieldIndex[T]) Put(obj T) (bool, error) {
	k, err := fi.KeyOf(obj)
	if err != nil {
		return false, err
	}
	return fi.Index.Put(k, obj.OID())
}

// Set indexes obj, replacing the object previously indexed under the same
// key in a unique index.
func (fi *FieldIndex[T]) Set(obj T) (old ObjectID, replaced bool, err error) {
	k, err := fi.KeyOf(obj)
	if err != nil {
		return 0, false, err
	}
	return fi.Index.Set(k, obj.OID())
}

// Remove drops obj from the index. obj must still hold the field values it
// was indexed with.
func (fi *FieldIndex[T]) Remove(obj T) error {
	k, err := fi.KeyOf(obj)
	if err != nil {
		return err
	}
	return fi.Index.RemoveValue(k, obj.OID())
}

// Contains reports whether obj is indexed under its current key.
func (fi *FieldIndex[T]) Contains(obj T) (bool, error) {
	k, err := fi.KeyOf(obj)
	if err != nil {
		return false, err
	}
	found := false
	it := fi.Iterator(k, k, Ascending)
	for it.Next() {
		if it.Value() == obj.OID() {
			found = true
			break
		}
	}
	return found, it.Err()
}
