package ordex

import (
	"github.com/alexhholmes/ordex/internal/btree"
)

// Order is the direction of a scan.
type Order int

const (
	Ascending  = Order(btree.Ascending)
	Descending = Order(btree.Descending)
)

// Entry is one key/value pair of an index.
type Entry struct {
	Key   Key
	Value ObjectID
}

// Iterator walks the values of a key range. Use it as
//
//	it := idx.Iterator(from, till, ordex.Ascending)
//	for it.Next() {
//		use(it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
//
// If the index changes while the iterator is open, the next call to Next
// fails with ErrConcurrentModification, unless the index was opened
// WithConcurrentIterators. Changes made through the iterator's own Remove
// never invalidate it.
type Iterator struct {
	idx    *Index
	cursor *btree.Cursor
	err    error
}

// Iterator returns an iterator over the entries between from and till.
// Either bound may be NoBound.
func (idx *Index) Iterator(from, till Key, order Order) *Iterator {
	it := &Iterator{idx: idx}
	lo, hi, err := idx.bounds(from, till)
	if err != nil {
		it.err = err
		return it
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		it.err = ErrIndexClosed
		return it
	}
	it.cursor = idx.tree.Cursor(lo, hi, btree.Order(order), idx.opts.concurrent)
	return it
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	it.idx.mu.RLock()
	defer it.idx.mu.RUnlock()
	if it.idx.closed {
		it.err = ErrIndexClosed
		return false
	}
	if it.cursor.Next() {
		return true
	}
	it.err = it.cursor.Err()
	return false
}

// Value returns the value of the current entry.
func (it *Iterator) Value() ObjectID {
	if it.cursor == nil {
		return 0
	}
	return ObjectID(it.cursor.Value())
}

// Key returns the decoded key of the current entry. Keys of a
// case-insensitive index come back lower-cased.
func (it *Iterator) Key() Key {
	if it.cursor == nil || it.cursor.Key() == nil {
		return NoBound
	}
	return it.idx.decode(it.cursor.Key())
}

// Err returns the error that ended the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Remove deletes the current entry from the index. The iterator continues
// with the entry that followed it.
func (it *Iterator) Remove() error {
	if it.err != nil {
		return it.err
	}

	it.idx.mu.Lock()
	defer it.idx.mu.Unlock()
	if it.idx.closed {
		it.err = ErrIndexClosed
		return it.err
	}
	return it.cursor.Remove()
}

// EntryIterator is an Iterator that yields whole entries.
type EntryIterator struct {
	*Iterator
}

// EntryIterator returns an iterator over the entries between from and till.
func (idx *Index) EntryIterator(from, till Key, order Order) *EntryIterator {
	return &EntryIterator{Iterator: idx.Iterator(from, till, order)}
}

// Entry returns the current entry.
func (it *EntryIterator) Entry() Entry {
	return Entry{Key: it.Key(), Value: it.Value()}
}
