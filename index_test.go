package ordex

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setup creates an in-memory index with small nodes so that a few hundred
// entries already give a deep tree
func setup(t *testing.T, kt KeyType, unique bool, options ...Option) *Index {
	t.Helper()
	options = append([]Option{WithNodeCapacity(4)}, options...)
	idx, err := New(kt, unique, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func ids(vs ...int) []ObjectID {
	out := make([]ObjectID, len(vs))
	for i, v := range vs {
		out[i] = ObjectID(v)
	}
	return out
}

// recordingLogger keeps messages for assertions
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, level+": "+msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *recordingLogger) Warn(msg string, _ ...any) { l.record("warn", msg) }

func (l *recordingLogger) Info(msg string, _ ...any) { l.record("info", msg) }

func TestRangeAfterRemove(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	for _, v := range []int32{5, 3, 8, 1, 4, 7, 2, 6} {
		ok, err := idx.Put(IntKey(v), ObjectID(v))
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err := idx.GetRange(IntKey(3), IntKey(7))
	require.NoError(t, err)
	assert.Equal(t, ids(3, 4, 5, 6, 7), got)

	old, err := idx.Remove(IntKey(5))
	require.NoError(t, err)
	assert.Equal(t, ObjectID(5), old)

	got, err = idx.GetRange(IntKey(3), IntKey(7))
	require.NoError(t, err)
	assert.Equal(t, ids(3, 4, 6, 7), got)
	assert.Equal(t, 7, idx.Size())
	require.NoError(t, idx.Verify())
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	unique := setup(t, TypeLong, true)
	multi := setup(t, TypeLong, false)
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 500; i++ {
		k := rng.Int63n(1000) - 500
		v := ObjectID(i + 1)

		ok, err := unique.Put(LongKey(k), v)
		require.NoError(t, err)
		if ok {
			got, found, err := unique.Get(LongKey(k))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, v, got)
		}

		ok, err = multi.Put(LongKey(k), v)
		require.NoError(t, err)
		require.True(t, ok, "non-unique index takes every entry")
		values, err := multi.GetRange(LongKey(k), LongKey(k))
		require.NoError(t, err)
		assert.Contains(t, values, v)
	}
	require.NoError(t, unique.Verify())
	require.NoError(t, multi.Verify())
	assert.Equal(t, 500, multi.Size())

	_, found, err := unique.Get(LongKey(5000))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSizeTracksChanges(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	rng := rand.New(rand.NewSource(11))
	present := make(map[int32]bool)
	expected := 0

	for op := 0; op < 3000; op++ {
		k := int32(rng.Intn(300))
		switch rng.Intn(3) {
		case 0, 1:
			ok, err := idx.Put(IntKey(k), ObjectID(k))
			require.NoError(t, err)
			assert.Equal(t, !present[k], ok)
			if ok {
				present[k] = true
				expected++
			}
		default:
			_, err := idx.Remove(IntKey(k))
			if present[k] {
				require.NoError(t, err)
				delete(present, k)
				expected--
			} else {
				assert.True(t, errors.Is(err, ErrKeyNotFound))
			}
		}
		require.Equal(t, expected, idx.Size())
	}
	require.NoError(t, idx.Verify())
}

func TestRemoveTwice(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeString, true)
	_, err := idx.Put(StringKey("a"), 1)
	require.NoError(t, err)

	_, err = idx.Remove(StringKey("a"))
	require.NoError(t, err)
	_, err = idx.Remove(StringKey("a"))
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.Equal(t, 0, idx.Size())
}

func TestSetReplaces(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	old, replaced, err := idx.Set(IntKey(1), 10)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Zero(t, old)

	ok, err := idx.Put(IntKey(1), 20)
	require.NoError(t, err)
	assert.False(t, ok, "put does not replace")

	old, replaced, err = idx.Set(IntKey(1), 30)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, ObjectID(10), old)

	v, _, err := idx.Get(IntKey(1))
	require.NoError(t, err)
	assert.Equal(t, ObjectID(30), v)
	assert.Equal(t, 1, idx.Size())

	multi := setup(t, TypeInt, false)
	_, _, err = multi.Set(IntKey(1), 1)
	require.NoError(t, err)
	_, replaced, err = multi.Set(IntKey(1), 2)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, 2, multi.Size())
}

func TestNonUniqueRemove(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeString, false)
	for i := 0; i < 20; i++ {
		_, err := idx.Put(StringKey("dup"), ObjectID(i))
		require.NoError(t, err)
	}
	_, err := idx.Put(StringKey("solo"), 99)
	require.NoError(t, err)

	_, _, err = idx.Get(StringKey("dup"))
	assert.True(t, errors.Is(err, ErrKeyNotUnique))
	_, err = idx.Remove(StringKey("dup"))
	assert.True(t, errors.Is(err, ErrKeyNotUnique))

	for i := 0; i < 19; i++ {
		require.NoError(t, idx.RemoveValue(StringKey("dup"), ObjectID(i)))
	}
	err = idx.RemoveValue(StringKey("dup"), 3)
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	v, err := idx.Remove(StringKey("dup"))
	require.NoError(t, err)
	assert.Equal(t, ObjectID(19), v)

	v, err = idx.Remove(StringKey("solo"))
	require.NoError(t, err)
	assert.Equal(t, ObjectID(99), v)
	assert.Equal(t, 0, idx.Size())
	require.NoError(t, idx.Verify())
}

func TestIncompatibleKeys(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeString, true)
	_, err := idx.Put(IntKey(1), 1)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	_, err = idx.Put(NoBound, 1)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	_, err = idx.GetRange(LongKey(1), NoBound)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))

	_, err = idx.Put(StringKey(string(make([]byte, 1000))), 1)
	assert.True(t, errors.Is(err, ErrKeyTooLarge))

	// dates and longs share a representation, as do enums and ints
	dates := setup(t, TypeDate, true)
	_, err = dates.Put(LongKey(1000), 1)
	assert.NoError(t, err)
	enums := setup(t, TypeEnum, true)
	_, err = enums.Put(IntKey(2), 1)
	assert.NoError(t, err)

	composite, err := NewComposite([]KeyType{TypeString, TypeInt}, true)
	require.NoError(t, err)
	_, err = composite.Put(CompositeKey(StringKey("a"), IntKey(1), IntKey(2)), 1)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	_, err = composite.Put(CompositeKey(IntKey(1), IntKey(2)), 1)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
}

func TestInvalidOptions(t *testing.T) {
	t.Parallel()

	for _, opts := range [][]Option{
		{WithPageSize(1000)},
		{WithPageSize(512)},
		{WithNodeCapacity(2)},
		{WithNodeCapacity(100000)},
		{WithCacheSize(-1)},
	} {
		_, err := New(TypeInt, true, opts...)
		assert.True(t, errors.Is(err, ErrInvalidOptions))
	}

	_, err := New(TypeComposite, true)
	assert.True(t, errors.Is(err, ErrUnsupportedIndexType))
	_, err = NewComposite(nil, true)
	assert.True(t, errors.Is(err, ErrUnsupportedIndexType))
}

func TestGetAt(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	for _, i := range rand.New(rand.NewSource(5)).Perm(101) {
		_, err := idx.Put(IntKey(int32(i*2)), ObjectID(i))
		require.NoError(t, err)
	}

	for i := 0; i < 101; i++ {
		v, err := idx.GetAt(i)
		require.NoError(t, err)
		require.Equal(t, ObjectID(i), v, "position %d", i)
	}

	_, err := idx.GetAt(101)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	_, err = idx.GetAt(-1)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestCompositeIndex(t *testing.T) {
	t.Parallel()

	idx, err := NewComposite([]KeyType{TypeString, TypeInt}, true, WithNodeCapacity(4))
	require.NoError(t, err)
	defer idx.Close()

	id := ObjectID(0)
	for _, city := range []string{"berlin", "oslo", "paris"} {
		for year := int32(2000); year < 2010; year++ {
			id++
			ok, err := idx.Put(CompositeKey(StringKey(city), IntKey(year)), id)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
	require.NoError(t, idx.Verify())

	v, ok, err := idx.Get(CompositeKey(StringKey("oslo"), IntKey(2003)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ObjectID(14), v)

	// a one-component key is a prefix matching every year
	got, err := idx.GetRange(CompositeKey(StringKey("oslo")), CompositeKey(StringKey("oslo")))
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, ObjectID(11), got[0])

	got, err = idx.GetRange(
		CompositeKey(StringKey("berlin"), IntKey(2008)),
		CompositeKey(StringKey("oslo"), IntKey(2001)).Exclusive())
	require.NoError(t, err)
	assert.Equal(t, ids(9, 10, 11), got)

	entries, err := idx.GetRangeEntries(CompositeKey(StringKey("paris"), IntKey(2009)), NoBound, Ascending)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []any{"paris", int32(2009)}, entries[0].Key.Value())
}

func TestCaseInsensitive(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeString, true, WithCaseInsensitive())
	ok, err := idx.Put(StringKey("Hello"), 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = idx.Put(StringKey("HELLO"), 2)
	require.NoError(t, err)
	assert.False(t, ok, "keys differing only in case collide")

	v, found, err := idx.Get(StringKey("hElLo"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ObjectID(1), v)

	entries, err := idx.GetRangeEntries(NoBound, NoBound, Ascending)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Key.Value(), "original case is not kept")
}

func TestClosedIndex(t *testing.T) {
	t.Parallel()

	log := &recordingLogger{}
	idx, err := New(TypeInt, true, WithLogger(log))
	require.NoError(t, err)
	_, err = idx.Put(IntKey(1), 1)
	require.NoError(t, err)
	it := idx.Iterator(NoBound, NoBound, Ascending)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Put(IntKey(2), 2)
	assert.True(t, errors.Is(err, ErrIndexClosed))
	_, _, err = idx.Get(IntKey(1))
	assert.True(t, errors.Is(err, ErrIndexClosed))
	_, err = idx.GetRange(NoBound, NoBound)
	assert.True(t, errors.Is(err, ErrIndexClosed))
	assert.True(t, errors.Is(idx.Flush(), ErrIndexClosed))

	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), ErrIndexClosed))

	assert.Equal(t, []string{"info: index opened", "info: index closed"}, log.msgs)
}

func TestParallelReaders(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	for i := int32(0); i < 1000; i++ {
		_, err := idx.Put(IntKey(i), ObjectID(i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := int32(0); i < 1000; i += 7 {
				v, ok, err := idx.Get(IntKey(i))
				if err != nil || !ok || v != ObjectID(i) {
					errs <- fmt.Errorf("get %d: %v %v %v", i, v, ok, err)
					return
				}
			}
		}()
		go func(w int) {
			defer wg.Done()
			for i := int32(0); i < 50; i++ {
				if _, err := idx.Put(IntKey(int32(2000+w*100)+i), 1); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1200, idx.Size())
	require.NoError(t, idx.Verify())
}

func TestCompositePrefixIsNotAnEntry(t *testing.T) {
	t.Parallel()

	idx, err := NewComposite([]KeyType{TypeInt, TypeString}, true)
	require.NoError(t, err)
	defer idx.Close()

	prefix := CompositeKey(IntKey(1))
	_, err = idx.Put(prefix, 10)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	_, _, err = idx.Set(prefix, 10)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	_, _, err = idx.Get(prefix)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	_, err = idx.Remove(prefix)
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	assert.True(t, errors.Is(idx.RemoveValue(IntKey(1), 10), ErrIncompatibleKeyType), "bare scalar is a prefix too")

	for i, s := range []string{"a", "b"} {
		ok, err := idx.Put(CompositeKey(IntKey(1), StringKey(s)), ObjectID(11+i))
		require.NoError(t, err)
		assert.True(t, ok, "distinct keys sharing a first component")
	}
	assert.Equal(t, 2, idx.Size())

	got, err := idx.GetRange(prefix, prefix)
	require.NoError(t, err)
	assert.Equal(t, ids(11, 12), got, "prefixes still work as bounds")
}
