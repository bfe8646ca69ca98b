// Package ordex is an ordered index for an embedded object store: a B-tree
// mapping typed keys to object identifiers. Indexes are unique or allow
// duplicates, take scalar or composite keys, live in memory or in a file,
// and support range scans in both directions.
package ordex

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/btree"
	"github.com/alexhholmes/ordex/internal/bufpool"
	"github.com/alexhholmes/ordex/internal/keys"
	"github.com/alexhholmes/ordex/internal/pagestore"
	"github.com/alexhholmes/ordex/internal/storage"
)

// Index is an ordered index. It is safe for concurrent use: lookups and
// scans run in parallel, changes are serialized.
type Index struct {
	mu     sync.RWMutex
	opts   Options
	layout keys.Layout
	tree   *btree.Tree
	log    Logger
	closed bool

	// file-backed indexes only
	disk  storage.Storage
	pool  *bufpool.Pool
	pages *pagestore.Store
}

// New opens an index over scalar keys of type kt.
func New(kt KeyType, unique bool, options ...Option) (*Index, error) {
	opts := applyOptions(options)
	layout, err := keys.NewLayout(kt)
	if err != nil {
		return nil, err
	}
	layout.Fold = opts.caseInsensitive
	return open(layout, unique, opts)
}

// NewComposite opens an index over multi-field keys whose components have
// the given types, compared in that order.
func NewComposite(types []KeyType, unique bool, options ...Option) (*Index, error) {
	opts := applyOptions(options)
	layout, err := keys.NewCompositeLayout(types)
	if err != nil {
		return nil, err
	}
	layout.Fold = opts.caseInsensitive
	return open(layout, unique, opts)
}

func applyOptions(options []Option) Options {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

func open(layout keys.Layout, unique bool, opts Options) (*Index, error) {
	if !pagestore.ValidPageSize(opts.pageSize) {
		return nil, errors.Wrapf(base.ErrInvalidOptions, "page size %d", opts.pageSize)
	}
	capacity := btree.Capacity(layout, opts.pageSize)
	if opts.nodeCapacity != 0 {
		if opts.nodeCapacity < btree.MinCapacity || opts.nodeCapacity > capacity {
			return nil, errors.Wrapf(base.ErrInvalidOptions,
				"node capacity %d outside [%d, %d]", opts.nodeCapacity, btree.MinCapacity, capacity)
		}
		capacity = opts.nodeCapacity
	}
	if opts.cacheSize < 0 {
		return nil, errors.Wrapf(base.ErrInvalidOptions, "cache size %d", opts.cacheSize)
	}

	idx := &Index{opts: opts, layout: layout, log: opts.logger}

	var store btree.Store = btree.NewArena()
	if opts.path != "" {
		pages, err := idx.openFile(unique)
		if err != nil {
			return nil, err
		}
		store = pages
	}

	tree, err := btree.New(store, layout, unique, capacity)
	if err != nil {
		idx.release()
		return nil, err
	}
	idx.tree = tree

	idx.log.Info("index opened",
		"type", layout.Type.String(),
		"unique", unique,
		"path", opts.path,
		"capacity", capacity,
		"height", tree.Height(),
		"count", tree.Count())
	return idx, nil
}

func (idx *Index) openFile(unique bool) (*pagestore.Store, error) {
	var err error
	if idx.opts.mmap {
		idx.disk, err = storage.NewMMap(idx.opts.path, idx.opts.pageSize)
	} else {
		idx.disk, err = storage.NewFile(idx.opts.path, idx.opts.pageSize)
	}
	if err != nil {
		return nil, err
	}

	idx.pool, err = bufpool.New(idx.disk, idx.opts.pageSize, idx.opts.cacheSize, idx.log)
	if err != nil {
		idx.release()
		return nil, err
	}
	idx.pages, err = pagestore.Open(idx.pool, idx.layout, unique, idx.log)
	if err != nil {
		idx.release()
		return nil, err
	}
	return idx.pages, nil
}

// release drops the storage stack of a file-backed index without flushing.
func (idx *Index) release() {
	if idx.pool != nil {
		_ = idx.pool.Close()
	}
	if idx.disk != nil {
		_ = idx.disk.Close()
	}
}

// encode converts k into the stored key encoding. Composite keys must
// carry every component; prefixes are only valid as range bounds.
func (idx *Index) encode(k Key) ([]byte, error) {
	if !k.IsBound() {
		return nil, errors.Wrap(base.ErrIncompatibleKeyType, "missing key")
	}
	return idx.layout.EncodeEntry(k.v)
}

// bound converts a range end; NoBound gives nil.
func (idx *Index) bound(k Key) (*btree.Bound, error) {
	if !k.IsBound() {
		return nil, nil
	}
	b, err := idx.layout.Encode(k.v)
	if err != nil {
		return nil, err
	}
	return &btree.Bound{Key: b, Inclusive: !k.exclusive}, nil
}

func (idx *Index) bounds(from, till Key) (*btree.Bound, *btree.Bound, error) {
	lo, err := idx.bound(from)
	if err != nil {
		return nil, nil, err
	}
	hi, err := idx.bound(till)
	if err != nil {
		return nil, nil, err
	}
	return lo, hi, nil
}

func (idx *Index) decode(b []byte) Key {
	return Key{v: idx.layout.Decode(b)}
}

// KeyType returns the type of the index's keys.
func (idx *Index) KeyType() KeyType { return idx.layout.Type }

// Unique reports whether the index rejects duplicate keys.
func (idx *Index) Unique() bool { return idx.tree.Unique() }

// Put adds an entry mapping k to v. A unique index that already holds k is
// left unchanged and Put reports false.
func (idx *Index) Put(k Key, v ObjectID) (bool, error) {
	key, err := idx.encode(k)
	if err != nil {
		return false, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return false, ErrIndexClosed
	}

	res, err := idx.tree.Insert(key, uint64(v), false)
	if err != nil {
		return false, err
	}
	return res.Status == btree.Done, nil
}

// Set maps k to v in a unique index, replacing and returning any previous
// value. In a non-unique index Set adds an entry like Put.
func (idx *Index) Set(k Key, v ObjectID) (old ObjectID, replaced bool, err error) {
	key, err := idx.encode(k)
	if err != nil {
		return 0, false, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return 0, false, ErrIndexClosed
	}

	res, err := idx.tree.Insert(key, uint64(v), true)
	if err != nil {
		return 0, false, err
	}
	if res.Status == btree.Overwrite {
		return ObjectID(res.Old), true, nil
	}
	return 0, false, nil
}

// Get returns the value stored under k. In a non-unique index holding
// several entries for k it fails with ErrKeyNotUnique.
func (idx *Index) Get(k Key) (ObjectID, bool, error) {
	key, err := idx.encode(k)
	if err != nil {
		return 0, false, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return 0, false, ErrIndexClosed
	}

	v, ok, err := idx.tree.Get(key)
	return ObjectID(v), ok, err
}

// GetRange returns the values of all entries between from and till in
// ascending key order. Either bound may be NoBound.
func (idx *Index) GetRange(from, till Key) ([]ObjectID, error) {
	lo, hi, err := idx.bounds(from, till)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrIndexClosed
	}

	var out []ObjectID
	err = idx.tree.Find(lo, hi, func(_ []byte, v uint64) bool {
		out = append(out, ObjectID(v))
		return true
	})
	return out, err
}

// GetRangeList is GetRange with a choice of order.
func (idx *Index) GetRangeList(from, till Key, order Order) ([]ObjectID, error) {
	if order == Ascending {
		return idx.GetRange(from, till)
	}
	var out []ObjectID
	err := idx.scan(from, till, order, func(_ []byte, v uint64) {
		out = append(out, ObjectID(v))
	})
	return out, err
}

// GetRangeEntries returns the entries between from and till with their
// decoded keys.
func (idx *Index) GetRangeEntries(from, till Key, order Order) ([]Entry, error) {
	var out []Entry
	err := idx.scan(from, till, order, func(k []byte, v uint64) {
		out = append(out, Entry{Key: idx.decode(k), Value: ObjectID(v)})
	})
	return out, err
}

// scan walks a range with a strict cursor under the read lock.
func (idx *Index) scan(from, till Key, order Order, fn func([]byte, uint64)) error {
	lo, hi, err := idx.bounds(from, till)
	if err != nil {
		return err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return ErrIndexClosed
	}

	c := idx.tree.Cursor(lo, hi, btree.Order(order), false)
	for c.Next() {
		fn(c.Key(), c.Value())
	}
	return c.Err()
}

// Remove deletes the entry stored under k and returns its value. It fails
// with ErrKeyNotFound when there is none, and in a non-unique index with
// ErrKeyNotUnique when there are several; use RemoveValue then.
func (idx *Index) Remove(k Key) (ObjectID, error) {
	key, err := idx.encode(k)
	if err != nil {
		return 0, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return 0, ErrIndexClosed
	}

	var target *uint64
	if !idx.tree.Unique() {
		v, ok, err := idx.tree.Get(key)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errors.Wrapf(base.ErrKeyNotFound, "%s", k)
		}
		target = &v
	}

	res, err := idx.tree.Remove(key, target)
	if err != nil {
		return 0, err
	}
	if res.Status == btree.NotFound {
		return 0, errors.Wrapf(base.ErrKeyNotFound, "%s", k)
	}
	return ObjectID(res.Old), nil
}

// RemoveValue deletes the entry mapping k to v.
func (idx *Index) RemoveValue(k Key, v ObjectID) error {
	key, err := idx.encode(k)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrIndexClosed
	}

	value := uint64(v)
	res, err := idx.tree.Remove(key, &value)
	if err != nil {
		return err
	}
	if res.Status == btree.NotFound {
		return errors.Wrapf(base.ErrKeyNotFound, "%s -> %d", k, v)
	}
	return nil
}

// GetAt returns the value of the i-th entry in ascending key order. The
// walk starts from whichever end of the index is nearer.
func (idx *Index) GetAt(i int) (ObjectID, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return 0, ErrIndexClosed
	}

	count := idx.tree.Count()
	if i < 0 || i >= count {
		return 0, errors.Wrapf(base.ErrOutOfRange, "position %d of %d", i, count)
	}
	order, skip := btree.Ascending, i
	if i > count/2 {
		order, skip = btree.Descending, count-1-i
	}

	c := idx.tree.Cursor(nil, nil, order, false)
	for c.Next() {
		if skip == 0 {
			return ObjectID(c.Value()), nil
		}
		skip--
	}
	if err := c.Err(); err != nil {
		return 0, err
	}
	panic(errors.AssertionFailedf("index of %d entries ended before position %d", count, i))
}

// Size returns the number of entries.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Count()
}

// Verify checks the structure of the whole tree.
func (idx *Index) Verify() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return ErrIndexClosed
	}
	return idx.tree.Verify()
}

// Flush writes all changes of a file-backed index to disk.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrIndexClosed
	}
	return idx.flush()
}

func (idx *Index) flush() error {
	if idx.pages == nil {
		return nil
	}
	if err := idx.pages.Flush(); err != nil {
		return err
	}
	return idx.disk.Sync()
}

// Close flushes a file-backed index and releases its file. Closing twice
// is a no-op.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true

	var err error
	if idx.pages != nil {
		err = idx.flush()
		err = errors.CombineErrors(err, idx.pool.Close())
		err = errors.CombineErrors(err, idx.disk.Close())
	}
	idx.log.Info("index closed", "path", idx.opts.path, "count", idx.tree.Count(), "error", err)
	return err
}

// Stats describes the shape of an index and, for file-backed indexes, its
// page cache.
type Stats struct {
	Count        int
	Height       int
	NodeCapacity int

	Pages       uint64 // pages in the file, header included
	CacheHits   uint64
	CacheMisses uint64
	Evictions   uint64
	WriteBacks  uint64
}

// Stats returns index statistics
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := Stats{
		Count:        idx.tree.Count(),
		Height:       idx.tree.Height(),
		NodeCapacity: idx.tree.Capacity(),
	}
	if idx.pages != nil && !idx.closed {
		ps := idx.pool.Stats()
		s.Pages = idx.pages.Pages()
		s.CacheHits = ps.Hits
		s.CacheMisses = ps.Misses
		s.Evictions = ps.Evictions
		s.WriteBacks = ps.WriteBacks
	}
	return s
}
