package pagestore

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/btree"
	"github.com/alexhholmes/ordex/internal/keys"
)

func encodeKey(t *testing.T, l keys.Layout, v keys.Value) []byte {
	t.Helper()
	k, err := l.Encode(v)
	require.NoError(t, err)
	return k
}

func TestNodePageRoundTrip(t *testing.T) {
	t.Parallel()

	l := keys.Layout{Type: keys.Int64}
	leaf := &btree.Node{Ref: 7, Leaf: true}
	for i := int64(0); i < 10; i++ {
		leaf.Keys = append(leaf.Keys, encodeKey(t, l, keys.Int64Value(i*100)))
		leaf.Refs = append(leaf.Refs, uint64(1000+i))
	}

	data := make([]byte, 1024)
	require.NoError(t, encodeNode(data, l, leaf))

	h := readPageHeader(data)
	assert.Equal(t, LeafPageFlag, h.Flags)
	assert.Equal(t, uint16(10), h.NumKeys)

	got, err := decodeNode(data, l, 7)
	require.NoError(t, err)
	assert.Equal(t, leaf, got)
}

func TestBranchPageVariableKeys(t *testing.T) {
	t.Parallel()

	l := keys.Layout{Type: keys.String}
	branch := &btree.Node{
		Ref: 3,
		Keys: [][]byte{
			encodeKey(t, l, keys.StringValue("apple")),
			encodeKey(t, l, keys.StringValue("")),
			encodeKey(t, l, keys.StringValue("zebra crossing")),
		},
		Refs: []uint64{10, 11, 12, 13},
	}

	data := make([]byte, 1024)
	require.NoError(t, encodeNode(data, l, branch))
	assert.Equal(t, BranchPageFlag, readPageHeader(data).Flags)

	got, err := decodeNode(data, l, 3)
	require.NoError(t, err)
	assert.False(t, got.Leaf)
	assert.Equal(t, branch.Keys, got.Keys)
	assert.Equal(t, branch.Refs, got.Refs)

	// references sit back-to-front at the page end
	assert.Equal(t, byte(10), data[1024-8])
	assert.Equal(t, byte(13), data[1024-32])
}

func TestNodePageChecksum(t *testing.T) {
	t.Parallel()

	l := keys.Layout{Type: keys.Int32}
	n := &btree.Node{Ref: 1, Leaf: true, Keys: [][]byte{encodeKey(t, l, keys.Int32Value(5))}, Refs: []uint64{9}}
	data := make([]byte, 1024)
	require.NoError(t, encodeNode(data, l, n))

	data[PageHeaderSize] ^= 0xFF
	_, err := decodeNode(data, l, 1)
	assert.True(t, errors.Is(err, base.ErrInvalidChecksum))

	// a never-written page is not a node either
	_, err = decodeNode(make([]byte, 1024), l, 1)
	assert.Error(t, err)
}

func TestNodePageOverflow(t *testing.T) {
	t.Parallel()

	l := keys.Layout{Type: keys.Bytes}
	n := &btree.Node{Ref: 1, Leaf: true}
	for i := 0; i < 10; i++ {
		n.Keys = append(n.Keys, make([]byte, 200))
		n.Refs = append(n.Refs, uint64(i))
	}
	err := encodeNode(make([]byte, 1024), l, n)
	assert.True(t, errors.Is(err, base.ErrPageOverflow))

	// capacity-sized nodes always fit
	capacity := btree.Capacity(l, 1024)
	n.Keys, n.Refs = n.Keys[:0], n.Refs[:0]
	for i := 0; i < capacity; i++ {
		n.Keys = append(n.Keys, make([]byte, keys.MaxKeySize))
		n.Refs = append(n.Refs, uint64(i))
	}
	assert.NoError(t, encodeNode(make([]byte, 1024), l, n))
}

func TestFreePage(t *testing.T) {
	t.Parallel()

	data := make([]byte, 1024)
	encodeFree(data, 42)
	next, err := decodeFree(data, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), next)

	l := keys.Layout{Type: keys.Int32}
	require.NoError(t, encodeNode(data, l, &btree.Node{Ref: 5, Leaf: true}))
	_, err = decodeFree(data, 5)
	assert.True(t, errors.Is(err, base.ErrCorruption))
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := Header{
		Magic:    MagicNumber,
		Version:  FormatVersion,
		PageSize: 2048,
		Height:   3,
		Count:    12345,
		RootPage: 17,
		KeyType:  keys.Composite,
		Unique:   true,
		Fold:     true,
		Parts:    []keys.Type{keys.String, keys.Int32, keys.Date},
		FreeHead: 9,
		NextPage: 40,
	}
	data := make([]byte, 2048)
	h.Encode(data)

	got, err := DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = DecodeHeader(data[:1024])
	assert.True(t, errors.Is(err, base.ErrInvalidPageSize))

	data[12]++
	_, err = DecodeHeader(data)
	assert.True(t, errors.Is(err, base.ErrInvalidChecksum))

	data[0] = 0
	_, err = DecodeHeader(data)
	assert.True(t, errors.Is(err, base.ErrInvalidMagicNumber))
}

func TestValidPageSize(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidPageSize(4096))
	assert.True(t, ValidPageSize(MinPageSize))
	assert.True(t, ValidPageSize(MaxPageSize))
	assert.False(t, ValidPageSize(512))
	assert.False(t, ValidPageSize(3000))
	assert.False(t, ValidPageSize(1<<17))
}
