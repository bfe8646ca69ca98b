package btree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
)

// Bound is one end of a key range. A nil *Bound leaves that end open.
type Bound struct {
	Key       []byte
	Inclusive bool
}

// below reports whether key lies before the lower bound b.
func (t *Tree) below(b *Bound, key []byte) bool {
	if b == nil {
		return false
	}
	c := t.layout.Compare(b.Key, key)
	return c > 0 || (c == 0 && !b.Inclusive)
}

// above reports whether key lies past the upper bound b.
func (t *Tree) above(b *Bound, key []byte) bool {
	if b == nil {
		return false
	}
	c := t.layout.Compare(b.Key, key)
	return c < 0 || (c == 0 && !b.Inclusive)
}

// lowerSearch returns the first slot whose key may satisfy the lower bound.
func (t *Tree) lowerSearch(n *Node, b *Bound) int {
	if b == nil {
		return 0
	}
	if b.Inclusive {
		return n.Search(t.layout, b.Key, 1)
	}
	return n.Search(t.layout, b.Key, 0)
}

// upperSearch returns the first slot whose key is past the upper bound.
func (t *Tree) upperSearch(n *Node, b *Bound) int {
	if b == nil {
		return n.Len()
	}
	if b.Inclusive {
		return n.Search(t.layout, b.Key, 0)
	}
	return n.Search(t.layout, b.Key, 1)
}

// Find calls fn for every entry between from and till in ascending key
// order until fn returns false.
func (t *Tree) Find(from, till *Bound, fn func(key []byte, value uint64) bool) error {
	if t.root == 0 {
		return nil
	}
	_, err := t.find(t.root, t.height, from, till, fn)
	return err
}

func (t *Tree) find(ref Ref, height int, from, till *Bound, fn func([]byte, uint64) bool) (bool, error) {
	n, err := t.store.Load(ref)
	if err != nil {
		return false, err
	}
	l := t.lowerSearch(n, from)

	if height == 1 {
		for i := l; i < n.Len(); i++ {
			if t.above(till, n.Keys[i]) {
				return false, nil
			}
			if !fn(n.Keys[i], n.Refs[i]) {
				return false, nil
			}
		}
		return true, nil
	}

	for i := l; i <= n.Len(); i++ {
		more, err := t.find(n.Child(i), height-1, from, till, fn)
		if err != nil || !more {
			return false, err
		}
		// children right of a separator past the bound hold only larger keys
		if i < n.Len() && t.above(till, n.Keys[i]) {
			return false, nil
		}
	}
	return true, nil
}

// Get returns the value of the single entry equal to key. A non-unique tree
// holding several equal keys reports base.ErrKeyNotUnique.
func (t *Tree) Get(key []byte) (uint64, bool, error) {
	var (
		value uint64
		found int
	)
	b := &Bound{Key: key, Inclusive: true}
	err := t.Find(b, b, func(_ []byte, v uint64) bool {
		value = v
		found++
		return found < 2
	})
	if err != nil {
		return 0, false, err
	}
	if found > 1 {
		return 0, false, errors.Wrap(base.ErrKeyNotUnique, "point lookup matched several entries")
	}
	return value, found == 1, nil
}
