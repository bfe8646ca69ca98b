package ordex

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, idx *Index, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := idx.Put(IntKey(int32(i)), ObjectID(i))
		require.NoError(t, err)
	}
}

func drain(t *testing.T, it *Iterator) []ObjectID {
	t.Helper()
	var out []ObjectID
	for it.Next() {
		out = append(out, it.Value())
	}
	require.NoError(t, it.Err())
	return out
}

func TestIteratorBounds(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	fill(t, idx, 50)

	assert.Equal(t, ids(10, 11, 12), drain(t, idx.Iterator(IntKey(10), IntKey(12), Ascending)))
	assert.Equal(t, ids(11), drain(t, idx.Iterator(IntKey(10).Exclusive(), IntKey(12).Exclusive(), Ascending)))
	assert.Equal(t, ids(12, 11, 10), drain(t, idx.Iterator(IntKey(10), IntKey(12), Descending)))
	assert.Equal(t, ids(2, 1, 0), drain(t, idx.Iterator(NoBound, IntKey(2), Descending)))
	assert.Equal(t, ids(48, 49), drain(t, idx.Iterator(IntKey(47).Exclusive(), NoBound, Ascending)))
	assert.Len(t, drain(t, idx.Iterator(NoBound, NoBound, Descending)), 50)

	got, err := idx.GetRangeList(IntKey(45), NoBound, Descending)
	require.NoError(t, err)
	assert.Equal(t, ids(49, 48, 47, 46, 45), got)

	it := idx.Iterator(IntKey(1), NoBound, Ascending)
	require.True(t, it.Next())
	assert.Equal(t, int32(1), it.Key().Value())

	bad := idx.Iterator(StringKey("x"), NoBound, Ascending)
	assert.False(t, bad.Next())
	assert.True(t, errors.Is(bad.Err(), ErrIncompatibleKeyType))
}

func TestEntryIterator(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeString, false)
	for i, s := range []string{"pear", "apple", "fig", "apple"} {
		_, err := idx.Put(StringKey(s), ObjectID(i))
		require.NoError(t, err)
	}

	it := idx.EntryIterator(NoBound, NoBound, Ascending)
	var entries []Entry
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	require.NoError(t, it.Err())
	require.Len(t, entries, 4)
	assert.Equal(t, "apple", entries[0].Key.Value())
	assert.Equal(t, ObjectID(1), entries[0].Value)
	assert.Equal(t, ObjectID(3), entries[1].Value, "duplicates in insertion order")
	assert.True(t, entries[3].Key.Equal(StringKey("pear")))

	desc, err := idx.GetRangeEntries(NoBound, StringKey("fig"), Descending)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, "fig", desc[0].Key.Value())
}

func TestIteratorStrictMode(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	fill(t, idx, 30)

	it := idx.Iterator(NoBound, NoBound, Ascending)
	for i := 0; i < 5; i++ {
		require.True(t, it.Next())
	}
	_, err := idx.Remove(IntKey(2))
	require.NoError(t, err)

	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), ErrConcurrentModification))
}

func TestIteratorConcurrentMode(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true, WithConcurrentIterators())
	fill(t, idx, 30)

	it := idx.Iterator(NoBound, NoBound, Ascending)
	var got []ObjectID
	for it.Next() {
		v := it.Value()
		got = append(got, v)
		if v == 4 {
			// an entry already returned and one still ahead
			_, err := idx.Remove(IntKey(2))
			require.NoError(t, err)
			_, err = idx.Remove(IntKey(6))
			require.NoError(t, err)
		}
	}
	require.NoError(t, it.Err())

	want := ids(0, 1, 2, 3, 4, 5)
	for i := 7; i < 30; i++ {
		want = append(want, ObjectID(i))
	}
	assert.Equal(t, want, got, "nothing skipped, nothing repeated")
}

func TestIteratorRemove(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, true)
	fill(t, idx, 100)

	it := idx.Iterator(IntKey(10), IntKey(60), Descending)
	visited := 0
	for it.Next() {
		visited++
		if it.Value()%3 == 0 {
			require.NoError(t, it.Remove())
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 51, visited)
	assert.Equal(t, 100-17, idx.Size())
	require.NoError(t, idx.Verify())

	_, found, err := idx.Get(IntKey(30))
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = idx.Get(IntKey(63))
	require.NoError(t, err)
	assert.True(t, found, "outside the range")
}

func TestPrefixOperations(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeString, true)
	words := []string{"a", "ab", "abc", "abd", "abcd", "b", "ba", "über", "übel"}
	for i, w := range words {
		_, err := idx.Put(StringKey(w), ObjectID(i))
		require.NoError(t, err)
	}

	var keys []string
	it := idx.PrefixIterator("abc")
	for it.Next() {
		keys = append(keys, it.Key().Value().(string))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"abc", "abcd"}, keys)

	assert.Equal(t, ids(8, 7), drain(t, idx.PrefixIterator("üb")))
	assert.Empty(t, drain(t, idx.PrefixIterator("zz")))
	assert.Len(t, drain(t, idx.PrefixIterator("")), len(words))

	got, err := idx.PrefixSearch("abcdef")
	require.NoError(t, err)
	assert.Equal(t, ids(0, 1, 2, 4), got)

	got, err = idx.PrefixSearch("übermorgen")
	require.NoError(t, err)
	assert.Equal(t, ids(7), got)

	ints := setup(t, TypeInt, true)
	_, err = ints.PrefixSearch("1")
	assert.True(t, errors.Is(err, ErrIncompatibleKeyType))
	assert.False(t, ints.PrefixIterator("1").Next())
}

func TestIteratorConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	idx := setup(t, TypeInt, false, WithConcurrentIterators())
	for _, e := range []struct{ k, v int }{{5, 1}, {5, 2}, {5, 3}, {9, 9}} {
		_, err := idx.Put(IntKey(int32(e.k)), ObjectID(e.v))
		require.NoError(t, err)
	}

	it := idx.Iterator(NoBound, NoBound, Ascending)
	require.True(t, it.Next())
	require.Equal(t, ObjectID(1), it.Value())
	require.NoError(t, idx.RemoveValue(IntKey(5), 1))

	got := ids(1)
	got = append(got, drain(t, it)...)
	assert.Equal(t, ids(1, 2, 3, 9), got, "remaining duplicates are not lost")
}

func TestIteratorOverwriteIsAChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ints.odx")
	idx := setup(t, TypeInt, true, WithFile(path))
	fill(t, idx, 10)

	it := idx.Iterator(NoBound, NoBound, Ascending)
	require.True(t, it.Next())
	_, replaced, err := idx.Set(IntKey(3), 300)
	require.NoError(t, err)
	require.True(t, replaced)
	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), ErrConcurrentModification))

	conc := setup(t, TypeInt, true, WithConcurrentIterators())
	fill(t, conc, 10)
	cit := conc.Iterator(NoBound, NoBound, Ascending)
	for i := 0; i < 4; i++ {
		require.True(t, cit.Next())
	}
	_, _, err = conc.Set(IntKey(3), 300)
	require.NoError(t, err)
	_, _, err = conc.Set(IntKey(5), 500)
	require.NoError(t, err)
	assert.Equal(t, ids(4, 500, 6, 7, 8, 9), drain(t, cit), "returned key is not repeated, pending one shows the new value")
}
