// Package bufpool caches fixed-size pages of a storage.Storage in memory.
//
// Callers pin a page with GetPage or PutPage and release it with Unfix. A
// pinned page is never evicted. Unpinned pages sit in an LRU; when it is
// full the least recently used page is evicted, and written back first if
// it was modified.
package bufpool

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/elastic/go-freelru"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/storage"
)

// MinFrames is the smallest pool size: enough for a root-to-leaf path plus
// the siblings touched by a split or merge.
const MinFrames = 16

// Page is one cached frame. Addr is a byte offset into the file and always a
// multiple of the page size.
type Page struct {
	Addr uint64
	Data []byte

	pins  int
	dirty bool
}

// Dirty reports whether the page has changes not yet written to storage.
func (p *Page) Dirty() bool { return p.dirty }

// Pool is a buffer pool over a storage backend. It is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	store    storage.Storage
	pageSize int
	log      base.Logger

	lru     *freelru.LRU[uint64, *Page] // unpinned frames
	pinned  map[uint64]*Page
	pending map[uint64]*Page // evicted dirty frames whose write-back failed
	err     error            // first write-back failure since the last Flush
	closed  bool

	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	writeBacks atomic.Uint64
}

func hashAddr(addr uint64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], addr)
	return uint32(xxhash.Sum64(b[:]))
}

// New creates a pool of frames pages over store
func New(store storage.Storage, pageSize, frames int, log base.Logger) (*Pool, error) {
	if pageSize <= 0 {
		return nil, errors.Wrapf(base.ErrInvalidPageSize, "%d", pageSize)
	}
	if log == nil {
		log = base.DiscardLogger{}
	}
	frames = max(frames, MinFrames)

	lru, err := freelru.New[uint64, *Page](uint32(frames), hashAddr)
	if err != nil {
		return nil, errors.Wrap(err, "create page lru")
	}
	p := &Pool{
		store:    store,
		pageSize: pageSize,
		log:      log,
		lru:      lru,
		pinned:   make(map[uint64]*Page),
		pending:  make(map[uint64]*Page),
	}
	lru.SetOnEvict(p.evicted)
	return p, nil
}

// PageSize returns the size of every page in the pool.
func (p *Pool) PageSize() int { return p.pageSize }

// evicted runs inside lru calls with p.mu held. Frames leaving the LRU
// because they are being pinned again have pins > 0 and are left alone.
func (p *Pool) evicted(addr uint64, pg *Page) {
	if pg.pins > 0 {
		return
	}
	p.evictions.Add(1)
	if !pg.dirty {
		return
	}
	if err := p.write(pg); err != nil {
		p.pending[addr] = pg
		if p.err == nil {
			p.err = err
		}
		p.log.Warn("page write-back failed", "addr", addr, "error", err)
	}
}

func (p *Pool) write(pg *Page) error {
	if err := p.store.WritePage(pg.Addr/uint64(p.pageSize), pg.Data); err != nil {
		return errors.Wrapf(err, "write back page at %d", pg.Addr)
	}
	pg.dirty = false
	p.writeBacks.Add(1)
	return nil
}

// GetPage returns the page at addr pinned, reading it from storage on a miss.
func (p *Pool) GetPage(addr uint64) (*Page, error) {
	return p.fix(addr, true)
}

// PutPage returns the page at addr pinned and marked dirty. The caller
// overwrites its contents, so a miss does not read storage and the frame
// starts out zeroed.
func (p *Pool) PutPage(addr uint64) (*Page, error) {
	pg, err := p.fix(addr, false)
	if err != nil {
		return nil, err
	}
	pg.dirty = true
	return pg, nil
}

func (p *Pool) fix(addr uint64, read bool) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, base.ErrIndexClosed
	}
	if addr%uint64(p.pageSize) != 0 {
		return nil, errors.Wrapf(base.ErrCorruption, "page address %d not aligned to %d", addr, p.pageSize)
	}

	if pg, ok := p.pinned[addr]; ok {
		p.hits.Add(1)
		pg.pins++
		return pg, nil
	}
	if pg, ok := p.pending[addr]; ok {
		p.hits.Add(1)
		delete(p.pending, addr)
		pg.pins = 1
		p.pinned[addr] = pg
		return pg, nil
	}
	if pg, ok := p.lru.Peek(addr); ok {
		p.hits.Add(1)
		// pin before removal so the eviction callback skips it
		pg.pins = 1
		p.lru.Remove(addr)
		p.pinned[addr] = pg
		return pg, nil
	}

	p.misses.Add(1)
	pg := &Page{Addr: addr, Data: make([]byte, p.pageSize), pins: 1}
	if read {
		if err := p.store.ReadPage(addr/uint64(p.pageSize), pg.Data); err != nil {
			return nil, errors.Wrapf(err, "read page at %d", addr)
		}
	}
	p.pinned[addr] = pg
	return pg, nil
}

// Unfix releases one pin on pg. Once unpinned the page becomes evictable.
func (p *Pool) Unfix(pg *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pg.pins <= 0 {
		panic(errors.AssertionFailedf("unfix of unpinned page at %d", pg.Addr))
	}
	pg.pins--
	if pg.pins > 0 {
		return
	}
	delete(p.pinned, pg.Addr)
	if p.closed {
		return
	}
	p.lru.Add(pg.Addr, pg)
}

// Modify marks a pinned page dirty.
func (p *Pool) Modify(pg *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pg.dirty = true
}

// Flush writes every dirty page, pinned or not, to storage. It returns the
// first error met, including write-back failures during earlier evictions.
func (p *Pool) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flush()
}

func (p *Pool) flush() error {
	err := p.err
	p.err = nil

	for addr, pg := range p.pending {
		if werr := p.write(pg); werr != nil {
			err = errors.CombineErrors(err, werr)
			continue
		}
		delete(p.pending, addr)
	}
	for _, pg := range p.pinned {
		if pg.dirty {
			err = errors.CombineErrors(err, p.write(pg))
		}
	}
	for _, addr := range p.lru.Keys() {
		if pg, ok := p.lru.Peek(addr); ok && pg.dirty {
			err = errors.CombineErrors(err, p.write(pg))
		}
	}
	return err
}

// Close flushes the pool and drops every frame. The storage stays open.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	err := p.flush()
	if n := len(p.pinned); n > 0 {
		p.log.Warn("closing buffer pool with pinned pages", "pinned", n)
	}
	p.closed = true
	p.lru.Purge()
	clear(p.pinned)
	return err
}

// Stats holds buffer pool counters
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
	Cached     int
	Pinned     int
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Hits:       p.hits.Load(),
		Misses:     p.misses.Load(),
		Evictions:  p.evictions.Load(),
		WriteBacks: p.writeBacks.Load(),
		Cached:     p.lru.Len() + len(p.pinned) + len(p.pending),
		Pinned:     len(p.pinned),
	}
}
