// Package pagestore keeps B-tree nodes in pages of a buffer pool. Page 0
// holds the tree header; every other page is a node, a free page or not yet
// used. A btree.Ref is the page number of a node.
package pagestore

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/btree"
	"github.com/alexhholmes/ordex/internal/bufpool"
	"github.com/alexhholmes/ordex/internal/keys"
)

// Store implements btree.Store over a bufpool.Pool.
type Store struct {
	pool     *bufpool.Pool
	layout   keys.Layout
	pageSize int
	log      base.Logger
	hdr      Header
}

var _ btree.Store = (*Store)(nil)

// Open loads the header page of pool, or formats it when the file is new.
// An existing file must have been created with the same layout and
// uniqueness.
func Open(pool *bufpool.Pool, layout keys.Layout, unique bool, log base.Logger) (*Store, error) {
	if log == nil {
		log = base.DiscardLogger{}
	}
	if len(layout.Parts) > MaxParts {
		return nil, errors.Wrapf(base.ErrUnsupportedIndexType, "%d key components, max %d", len(layout.Parts), MaxParts)
	}
	s := &Store{
		pool:     pool,
		layout:   layout,
		pageSize: pool.PageSize(),
		log:      log,
	}

	pg, err := pool.GetPage(0)
	if err != nil {
		return nil, err
	}
	fresh := !slices.ContainsFunc(pg.Data, func(b byte) bool { return b != 0 })
	var hdr Header
	if !fresh {
		hdr, err = DecodeHeader(pg.Data)
	}
	pool.Unfix(pg)
	if err != nil {
		log.Error("invalid index header", "error", err)
		return nil, err
	}

	if fresh {
		s.hdr = Header{
			Magic:    MagicNumber,
			Version:  FormatVersion,
			PageSize: uint32(s.pageSize),
			KeyType:  layout.Type,
			Unique:   unique,
			Fold:     layout.Fold,
			Parts:    slices.Clone(layout.Parts),
			NextPage: 1,
		}
		return s, s.writeHeader()
	}

	if hdr.KeyType != layout.Type || !slices.Equal(hdr.Parts, layout.Parts) ||
		hdr.Unique != unique || hdr.Fold != layout.Fold {
		return nil, errors.Wrapf(base.ErrIncompatibleKeyType,
			"file holds a %s index (unique=%v, parts=%v, fold=%v)", hdr.KeyType, hdr.Unique, hdr.Parts, hdr.Fold)
	}
	if (hdr.RootPage == 0) != (hdr.Height == 0) || hdr.NextPage == 0 ||
		uint64(hdr.RootPage) >= hdr.NextPage || hdr.FreeHead >= hdr.NextPage {
		return nil, errors.Wrapf(base.ErrCorruption,
			"header: root=%d height=%d next=%d free=%d", hdr.RootPage, hdr.Height, hdr.NextPage, hdr.FreeHead)
	}
	s.hdr = hdr
	return s, nil
}

// Header returns a copy of the current header.
func (s *Store) Header() Header {
	h := s.hdr
	h.Parts = slices.Clone(h.Parts)
	return h
}

func (s *Store) addr(page uint64) uint64 {
	return page * uint64(s.pageSize)
}

func (s *Store) writeHeader() error {
	pg, err := s.pool.PutPage(0)
	if err != nil {
		return err
	}
	defer s.pool.Unfix(pg)
	clear(pg.Data)
	s.hdr.Encode(pg.Data)
	return nil
}

func (s *Store) Load(ref btree.Ref) (*btree.Node, error) {
	if ref == 0 || uint64(ref) >= s.hdr.NextPage {
		return nil, errors.Wrapf(base.ErrCorruption, "node reference %d outside file of %d pages", ref, s.hdr.NextPage)
	}
	pg, err := s.pool.GetPage(s.addr(uint64(ref)))
	if err != nil {
		return nil, err
	}
	defer s.pool.Unfix(pg)

	n, err := decodeNode(pg.Data, s.layout, ref)
	if err != nil {
		s.log.Error("unreadable node page", "page", uint64(ref), "error", err)
		return nil, err
	}
	return n, nil
}

// Allocate takes the head of the free chain, or grows the file by a page.
func (s *Store) Allocate(n *btree.Node) (btree.Ref, error) {
	page := s.hdr.NextPage
	if head := s.hdr.FreeHead; head != 0 {
		pg, err := s.pool.GetPage(s.addr(head))
		if err != nil {
			return 0, err
		}
		next, err := decodeFree(pg.Data, head)
		s.pool.Unfix(pg)
		if err != nil {
			s.log.Error("broken free chain", "page", head, "error", err)
			return 0, err
		}
		s.hdr.FreeHead = next
		page = head
	} else {
		s.hdr.NextPage++
	}
	if page > uint64(maxPage) {
		return 0, errors.Wrapf(base.ErrPageOverflow, "file exceeds %d pages", maxPage)
	}

	n.Ref = btree.Ref(page)
	if err := s.Update(n); err != nil {
		return 0, err
	}
	return n.Ref, s.writeHeader()
}

// maxPage is the largest page number the header's root field can hold
const maxPage = 1<<31 - 1

func (s *Store) Update(n *btree.Node) error {
	if n.Ref == 0 || uint64(n.Ref) >= s.hdr.NextPage {
		return errors.Wrapf(base.ErrCorruption, "update of unallocated node %d", n.Ref)
	}
	pg, err := s.pool.PutPage(s.addr(uint64(n.Ref)))
	if err != nil {
		return err
	}
	defer s.pool.Unfix(pg)
	return encodeNode(pg.Data, s.layout, n)
}

// Free pushes the page onto the free chain.
func (s *Store) Free(ref btree.Ref) error {
	if ref == 0 || uint64(ref) >= s.hdr.NextPage {
		return errors.Wrapf(base.ErrCorruption, "free of unallocated node %d", ref)
	}
	pg, err := s.pool.PutPage(s.addr(uint64(ref)))
	if err != nil {
		return err
	}
	encodeFree(pg.Data, s.hdr.FreeHead)
	s.pool.Unfix(pg)

	s.hdr.FreeHead = uint64(ref)
	return s.writeHeader()
}

func (s *Store) Meta() btree.Meta {
	return btree.Meta{
		Root:   btree.Ref(s.hdr.RootPage),
		Height: int(s.hdr.Height),
		Count:  int(s.hdr.Count),
	}
}

func (s *Store) PutMeta(m btree.Meta) error {
	s.hdr.RootPage = int32(m.Root)
	s.hdr.Height = int32(m.Height)
	s.hdr.Count = int32(m.Count)
	return s.writeHeader()
}

// FreePages walks the free chain and returns its length.
func (s *Store) FreePages() (int, error) {
	n := 0
	for page := s.hdr.FreeHead; page != 0; n++ {
		if n > int(s.hdr.NextPage) {
			return 0, errors.Wrap(base.ErrCorruption, "free chain has a cycle")
		}
		pg, err := s.pool.GetPage(s.addr(page))
		if err != nil {
			return 0, err
		}
		next, err := decodeFree(pg.Data, page)
		s.pool.Unfix(pg)
		if err != nil {
			return 0, err
		}
		page = next
	}
	return n, nil
}

// Pages returns the number of pages in use or on the free chain, header
// included.
func (s *Store) Pages() uint64 {
	return s.hdr.NextPage
}

// Flush writes the header and every dirty page to storage.
func (s *Store) Flush() error {
	if err := s.writeHeader(); err != nil {
		return err
	}
	return s.pool.Flush()
}
