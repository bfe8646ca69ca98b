package pagestore

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/btree"
	"github.com/alexhholmes/ordex/internal/keys"
)

const (
	LeafPageFlag   uint8 = 0x01
	BranchPageFlag uint8 = 0x02
	FreePageFlag   uint8 = 0x04

	PageHeaderSize = btree.NodeHeaderSize // Flags(1) + Reserved(1) + NumKeys(2) + Reserved(4) + Checksum(8)
	RefSize        = btree.RefSize

	// MagicNumber for file format identification ("odx1" in hex)
	MagicNumber uint32 = 0x6f647831

	FormatVersion uint16 = 1

	MinPageSize = 1024
	MaxPageSize = 1 << 16

	// MaxParts bounds the component types recorded in the header page
	MaxParts = 16

	checksumOffset = 8
)

// Node page layout (one tree node per page):
//
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Header (16 bytes)                                                   │
// │ Flags, Reserved, NumKeys, Reserved, Checksum                        │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Keys, forward growth →                                              │
// │   fixed width: Key[0] | Key[1] | ... | Key[N-1]                     │
// │   variable:    Len[0] Key[0] | Len[1] Key[1] | ...                  │
// ├─────────────────────────────────────────────────────────────────────┤
// │ free space                                                          │
// ├─────────────────────────────────────────────────────────────────────┤
// │ References, backward growth ←                                       │
// │   ... | Ref[1] | Ref[0]                                             │
// │   leaf: N value references, branch: N+1 child pages                 │
// └─────────────────────────────────────────────────────────────────────┘
//
// The checksum covers every byte of the page except itself. A free page
// has the free flag and the next free page number right after the header.

// PageHeader is the fixed header at the start of each node page
type PageHeader struct {
	Flags    uint8
	NumKeys  uint16
	Checksum uint64
}

func readPageHeader(data []byte) PageHeader {
	return PageHeader{
		Flags:    data[0],
		NumKeys:  binary.LittleEndian.Uint16(data[2:]),
		Checksum: binary.LittleEndian.Uint64(data[checksumOffset:]),
	}
}

func writePageHeader(data []byte, h PageHeader) {
	data[0] = h.Flags
	data[1] = 0
	binary.LittleEndian.PutUint16(data[2:], h.NumKeys)
	binary.LittleEndian.PutUint32(data[4:], 0)
	binary.LittleEndian.PutUint64(data[checksumOffset:], h.Checksum)
}

// pageChecksum hashes the page with the checksum field skipped
func pageChecksum(data []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(data[:checksumOffset])
	_, _ = d.Write(data[PageHeaderSize:])
	return d.Sum64()
}

func seal(data []byte) {
	binary.LittleEndian.PutUint64(data[checksumOffset:], pageChecksum(data))
}

func refOffset(pageSize, i int) int {
	return pageSize - (i+1)*RefSize
}

// encodeNode serializes n into data, which is fully overwritten.
func encodeNode(data []byte, l keys.Layout, n *btree.Node) error {
	clear(data)
	nrefs := len(n.Refs)
	if n.Leaf && nrefs != n.Len() || !n.Leaf && nrefs != n.Len()+1 {
		panic(errors.AssertionFailedf("node %d: %d keys with %d references", n.Ref, n.Len(), nrefs))
	}

	limit := len(data) - nrefs*RefSize
	off := PageHeaderSize
	width := l.Width()
	for i, k := range n.Keys {
		size := len(k)
		if width == 0 {
			size += 2
		} else if len(k) != width {
			panic(errors.AssertionFailedf("node %d: key %d is %d bytes, layout width %d", n.Ref, i, len(k), width))
		}
		if off+size > limit {
			return errors.Wrapf(base.ErrPageOverflow, "node %d: %d keys do not fit in %d bytes", n.Ref, n.Len(), len(data))
		}
		if width == 0 {
			binary.LittleEndian.PutUint16(data[off:], uint16(len(k)))
			off += 2
		}
		off += copy(data[off:], k)
	}
	for i, r := range n.Refs {
		binary.LittleEndian.PutUint64(data[refOffset(len(data), i):], r)
	}

	flags := LeafPageFlag
	if !n.Leaf {
		flags = BranchPageFlag
	}
	writePageHeader(data, PageHeader{Flags: flags, NumKeys: uint16(n.Len())})
	seal(data)
	return nil
}

// decodeNode parses a node page. Keys are copied out so the node does not
// alias the page buffer.
func decodeNode(data []byte, l keys.Layout, ref btree.Ref) (*btree.Node, error) {
	h := readPageHeader(data)
	if h.Checksum != pageChecksum(data) {
		return nil, errors.Wrapf(base.ErrInvalidChecksum, "page %d", ref)
	}

	n := &btree.Node{Ref: ref}
	switch h.Flags {
	case LeafPageFlag:
		n.Leaf = true
	case BranchPageFlag:
	default:
		return nil, errors.Wrapf(base.ErrCorruption, "page %d: flags %#x is not a node", ref, h.Flags)
	}

	count := int(h.NumKeys)
	nrefs := count
	if !n.Leaf {
		nrefs++
	}
	limit := len(data) - nrefs*RefSize
	if limit < PageHeaderSize {
		return nil, errors.Wrapf(base.ErrCorruption, "page %d: %d keys exceed page", ref, count)
	}

	width := l.Width()
	n.Keys = make([][]byte, count)
	off := PageHeaderSize
	for i := range n.Keys {
		size := width
		if width == 0 {
			if off+2 > limit {
				return nil, errors.Wrapf(base.ErrCorruption, "page %d: key %d length out of bounds", ref, i)
			}
			size = int(binary.LittleEndian.Uint16(data[off:]))
			off += 2
		}
		if off+size > limit {
			return nil, errors.Wrapf(base.ErrCorruption, "page %d: key %d out of bounds", ref, i)
		}
		n.Keys[i] = append([]byte(nil), data[off:off+size]...)
		off += size
	}

	n.Refs = make([]uint64, nrefs)
	for i := range n.Refs {
		n.Refs[i] = binary.LittleEndian.Uint64(data[refOffset(len(data), i):])
	}
	return n, nil
}

// encodeFree turns data into a free page linking to next.
func encodeFree(data []byte, next uint64) {
	clear(data)
	writePageHeader(data, PageHeader{Flags: FreePageFlag})
	binary.LittleEndian.PutUint64(data[PageHeaderSize:], next)
	seal(data)
}

func decodeFree(data []byte, page uint64) (uint64, error) {
	h := readPageHeader(data)
	if h.Checksum != pageChecksum(data) {
		return 0, errors.Wrapf(base.ErrInvalidChecksum, "free page %d", page)
	}
	if h.Flags != FreePageFlag {
		return 0, errors.Wrapf(base.ErrCorruption, "page %d on the free chain has flags %#x", page, h.Flags)
	}
	return binary.LittleEndian.Uint64(data[PageHeaderSize:]), nil
}

// Header is the tree state kept in page 0.
// Layout: [Magic: 4][Version: 2][Reserved: 2][PageSize: 4][Height: 4][Count: 4][RootPage: 4]
// [KeyType: 4][Unique: 1][Fold: 1][NumParts: 1][Reserved: 1][FreeHead: 8][NextPage: 8]
// [Parts: 16][Checksum: 8]
// Total: 80 bytes
type Header struct {
	Magic    uint32
	Version  uint16
	PageSize uint32
	Height   int32
	Count    int32
	RootPage int32
	KeyType  keys.Type
	Unique   bool
	Fold     bool
	Parts    []keys.Type
	FreeHead uint64 // first page of the free chain, 0 if empty
	NextPage uint64 // first page never handed out
	Checksum uint64
}

const (
	headerSize           = 80
	headerChecksumOffset = 72
)

func putBool(b []byte, v bool) {
	b[0] = 0
	if v {
		b[0] = 1
	}
}

// Encode writes h into data and computes its checksum.
func (h *Header) Encode(data []byte) {
	clear(data[:headerSize])
	le := binary.LittleEndian
	le.PutUint32(data[0:], h.Magic)
	le.PutUint16(data[4:], h.Version)
	le.PutUint32(data[8:], h.PageSize)
	le.PutUint32(data[12:], uint32(h.Height))
	le.PutUint32(data[16:], uint32(h.Count))
	le.PutUint32(data[20:], uint32(h.RootPage))
	le.PutUint32(data[24:], uint32(h.KeyType))
	putBool(data[28:], h.Unique)
	putBool(data[29:], h.Fold)
	data[30] = uint8(len(h.Parts))
	le.PutUint64(data[32:], h.FreeHead)
	le.PutUint64(data[40:], h.NextPage)
	for i, p := range h.Parts {
		data[48+i] = uint8(p)
	}
	h.Checksum = xxhash.Sum64(data[:headerChecksumOffset])
	le.PutUint64(data[headerChecksumOffset:], h.Checksum)
}

// DecodeHeader reads and validates the header in data.
func DecodeHeader(data []byte) (Header, error) {
	le := binary.LittleEndian
	h := Header{
		Magic:    le.Uint32(data[0:]),
		Version:  le.Uint16(data[4:]),
		PageSize: le.Uint32(data[8:]),
		Height:   int32(le.Uint32(data[12:])),
		Count:    int32(le.Uint32(data[16:])),
		RootPage: int32(le.Uint32(data[20:])),
		KeyType:  keys.Type(le.Uint32(data[24:])),
		Unique:   data[28] != 0,
		Fold:     data[29] != 0,
		FreeHead: le.Uint64(data[32:]),
		NextPage: le.Uint64(data[40:]),
		Checksum: le.Uint64(data[headerChecksumOffset:]),
	}
	if h.Magic != MagicNumber {
		return h, base.ErrInvalidMagicNumber
	}
	if h.Version != FormatVersion {
		return h, errors.Wrapf(base.ErrInvalidVersion, "version %d", h.Version)
	}
	if h.Checksum != xxhash.Sum64(data[:headerChecksumOffset]) {
		return h, errors.Wrap(base.ErrInvalidChecksum, "header page")
	}
	if int(h.PageSize) != len(data) {
		return h, errors.Wrapf(base.ErrInvalidPageSize, "file has %d byte pages, opened with %d", h.PageSize, len(data))
	}
	nparts := int(data[30])
	if nparts > MaxParts {
		return h, errors.Wrapf(base.ErrCorruption, "%d key components", nparts)
	}
	for i := 0; i < nparts; i++ {
		h.Parts = append(h.Parts, keys.Type(data[48+i]))
	}
	return h, nil
}

// ValidPageSize reports whether size can hold tree nodes: a power of two
// between MinPageSize and MaxPageSize.
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}
