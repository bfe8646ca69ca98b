package btree

import (
	"maps"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
)

// Order selects the scan direction of a Cursor.
type Order int

const (
	Ascending Order = iota
	Descending
)

// frame is one level of the cursor's root-to-leaf path. In a branch pos is
// the child the path descends into; in a leaf it is the next entry to yield.
type frame struct {
	node *Node
	pos  int
}

// Cursor walks the entries between two bounds in either direction. The walk
// is iterative over an explicit stack so it can stop and resume at any entry.
//
// A strict cursor fails with base.ErrConcurrentModification once the tree
// changes underneath it. A concurrent cursor instead re-seeks from the last
// entry it returned and continues after it.
type Cursor struct {
	tree       *Tree
	from, till *Bound
	order      Order
	concurrent bool

	stack   []frame
	version uint64
	started bool
	done    bool

	key   []byte
	value uint64
	valid bool
	err   error

	// resume point used when the stack has to be rebuilt: the key of the
	// last returned entry and how often each value was returned under it
	runKey   []byte
	runSeen  map[uint64]int
	anchored bool
	skip     map[uint64]int // returned entries still ahead after a reseek
}

// Cursor creates a cursor over [from, till]; nil bounds are open.
func (t *Tree) Cursor(from, till *Bound, order Order, concurrent bool) *Cursor {
	return &Cursor{
		tree:       t,
		from:       from,
		till:       till,
		order:      order,
		concurrent: concurrent,
		version:    t.version,
	}
}

// Next moves to the next entry and reports whether there is one.
func (c *Cursor) Next() bool {
	if c.err != nil || c.done {
		return false
	}
	if err := c.check(); err != nil {
		c.err = err
		return false
	}
	if !c.started {
		c.started = true
		if err := c.seek(c.from, c.till); err != nil {
			c.err = err
			return false
		}
	}

	key, value, ok, err := c.next()
	if err != nil {
		c.err = err
		return false
	}
	if !ok {
		c.valid = false
		return false
	}
	c.step()
	c.key, c.value, c.valid = key, value, true
	c.remember(key, value)
	return true
}

// Key returns the key of the current entry.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the value of the current entry.
func (c *Cursor) Value() uint64 { return c.value }

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error { return c.err }

// Reset rewinds the cursor to its first entry.
func (c *Cursor) Reset() {
	c.stack = c.stack[:0]
	c.version = c.tree.version
	c.started, c.done, c.valid, c.anchored = false, false, false, false
	c.skip = nil
	c.err = nil
}

// remember records a returned entry. Entries of one key are counted per
// value so a resync can skip exactly the duplicates already returned.
func (c *Cursor) remember(key []byte, value uint64) {
	if !c.anchored || c.tree.layout.Compare(c.runKey, key) != 0 {
		if c.runSeen == nil {
			c.runSeen = make(map[uint64]int)
		}
		clear(c.runSeen)
		c.runKey = key
		c.anchored = true
	}
	c.runSeen[value]++
}

// forget undoes remember for an entry that has been removed from the tree.
func (c *Cursor) forget(value uint64) {
	if n := c.runSeen[value]; n > 1 {
		c.runSeen[value] = n - 1
	} else {
		delete(c.runSeen, value)
	}
}

// Remove deletes the entry last returned by Next and repositions the cursor
// on its successor.
func (c *Cursor) Remove() error {
	if c.err != nil {
		return c.err
	}
	if !c.valid {
		return errors.Wrap(base.ErrKeyNotFound, "cursor is not positioned on an entry")
	}
	if err := c.check(); err != nil {
		c.err = err
		return err
	}

	value := c.value
	res, err := c.tree.Remove(c.key, &value)
	if err != nil {
		c.err = err
		return err
	}
	c.valid = false
	c.version = c.tree.version
	if res.Status == NotFound {
		return errors.Wrap(base.ErrKeyNotFound, "current entry already removed")
	}
	c.forget(value)
	return c.reseek()
}

// check compares the tree version against the one the stack was built on.
func (c *Cursor) check() error {
	if c.version == c.tree.version {
		return nil
	}
	if !c.started {
		c.version = c.tree.version
		return nil
	}
	if !c.concurrent {
		return errors.Wrap(base.ErrConcurrentModification, "tree changed during iteration")
	}
	c.version = c.tree.version
	if !c.anchored {
		return c.seek(c.from, c.till)
	}
	return c.reseek()
}

// seek rebuilds the stack for the first entry at or after from (ascending)
// or at or before till (descending).
func (c *Cursor) seek(from, till *Bound) error {
	c.stack = c.stack[:0]
	c.done = false
	t := c.tree
	if t.root == 0 {
		c.done = true
		return nil
	}

	ref := t.root
	for h := t.height; ; h-- {
		n, err := t.store.Load(ref)
		if err != nil {
			return err
		}
		var pos int
		if c.order == Ascending {
			pos = t.lowerSearch(n, from)
		} else {
			pos = t.upperSearch(n, till)
			if h == 1 {
				pos--
			}
		}
		c.stack = append(c.stack, frame{node: n, pos: pos})
		if h == 1 {
			return nil
		}
		ref = n.Child(pos)
	}
}

// reseek rebuilds the stack at the last returned key. The entries with that
// key that were already returned are skipped as the cursor meets them, so
// duplicates not yet returned are kept even when the last returned entry is
// gone. In a unique tree the key itself was returned, whatever its value now.
func (c *Cursor) reseek() error {
	b := &Bound{Key: c.runKey, Inclusive: true}
	var err error
	if c.order == Ascending {
		err = c.seek(b, c.till)
	} else {
		err = c.seek(c.from, b)
	}
	if err != nil {
		return err
	}
	c.skip = maps.Clone(c.runSeen)
	return nil
}

// next returns the next entry to yield, passing over returned entries left
// pending by a reseek.
func (c *Cursor) next() ([]byte, uint64, bool, error) {
	for {
		k, v, ok, err := c.peek()
		if err != nil || !ok || c.skip == nil {
			return k, v, ok, err
		}
		if c.tree.layout.Compare(c.runKey, k) != 0 {
			c.skip = nil
			return k, v, ok, nil
		}
		if !c.tree.unique {
			if c.skip[v] == 0 {
				return k, v, ok, nil
			}
			c.skip[v]--
		}
		c.step()
	}
}

// peek returns the entry the cursor would yield next without consuming it.
func (c *Cursor) peek() ([]byte, uint64, bool, error) {
	ok, err := c.normalize()
	if err != nil || !ok {
		return nil, 0, false, err
	}
	top := c.stack[len(c.stack)-1]
	key := top.node.Keys[top.pos]
	if c.order == Ascending && c.tree.above(c.till, key) ||
		c.order == Descending && c.tree.below(c.from, key) {
		c.done = true
		return nil, 0, false, nil
	}
	return key, top.node.Refs[top.pos], true, nil
}

// step consumes the entry at the top of the stack.
func (c *Cursor) step() {
	top := &c.stack[len(c.stack)-1]
	if c.order == Ascending {
		top.pos++
	} else {
		top.pos--
	}
}

// normalize climbs out of exhausted nodes and descends into the next child
// chain until the top of the stack names a leaf entry.
func (c *Cursor) normalize() (bool, error) {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.node.Leaf {
			if top.pos >= 0 && top.pos < top.node.Len() {
				return true, nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		c.step()
		if top.pos < 0 || top.pos > top.node.Len() {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		if err := c.descend(top.node.Child(top.pos)); err != nil {
			return false, err
		}
	}
	c.done = true
	return false, nil
}

// descend pushes the edge path below ref: leftmost when ascending,
// rightmost when descending.
func (c *Cursor) descend(ref Ref) error {
	for {
		n, err := c.tree.store.Load(ref)
		if err != nil {
			return err
		}
		pos := 0
		if c.order == Descending {
			pos = n.Len()
			if n.Leaf {
				pos--
			}
		}
		c.stack = append(c.stack, frame{node: n, pos: pos})
		if n.Leaf {
			return nil
		}
		ref = n.Child(pos)
	}
}
