package btree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
)

// Verify walks the whole tree and checks its structural invariants: sorted
// keys, separators bounding their children, fill between max/3 and max for
// non-root nodes, uniform leaf depth and the recorded entry count.
func (t *Tree) Verify() error {
	if t.root == 0 {
		if t.height != 0 || t.count != 0 {
			return errors.Wrapf(base.ErrCorruption, "empty tree with height %d and count %d", t.height, t.count)
		}
		return nil
	}
	count, err := t.verify(t.root, t.height, true, nil, nil)
	if err != nil {
		return err
	}
	if count != t.count {
		return errors.Wrapf(base.ErrCorruption, "tree holds %d entries, header says %d", count, t.count)
	}
	return nil
}

func (t *Tree) verify(ref Ref, height int, isRoot bool, lo, hi []byte) (int, error) {
	n, err := t.store.Load(ref)
	if err != nil {
		return 0, err
	}
	if n.Leaf != (height == 1) {
		return 0, errors.Wrapf(base.ErrCorruption, "node %d: leaf=%v at height %d", ref, n.Leaf, height)
	}
	if n.Len() > t.max {
		return 0, errors.Wrapf(base.ErrCorruption, "node %d: %d keys over capacity %d", ref, n.Len(), t.max)
	}
	if !isRoot && n.Len() < t.minFill() {
		return 0, errors.Wrapf(base.ErrCorruption, "node %d: %d keys under minimum %d", ref, n.Len(), t.minFill())
	}
	want := n.Len()
	if !n.Leaf {
		want++
	}
	if len(n.Refs) != want {
		return 0, errors.Wrapf(base.ErrCorruption, "node %d: %d keys with %d references", ref, n.Len(), len(n.Refs))
	}

	for i, k := range n.Keys {
		if lo != nil && t.layout.Compare(k, lo) < 0 {
			return 0, errors.Wrapf(base.ErrCorruption, "node %d: key %d below lower separator", ref, i)
		}
		if hi != nil && t.layout.Compare(k, hi) > 0 {
			return 0, errors.Wrapf(base.ErrCorruption, "node %d: key %d above upper separator", ref, i)
		}
		if i > 0 {
			c := t.layout.Compare(n.Keys[i-1], k)
			if c > 0 || (c == 0 && t.unique && n.Leaf) {
				return 0, errors.Wrapf(base.ErrCorruption, "node %d: keys %d and %d out of order", ref, i-1, i)
			}
		}
	}

	if n.Leaf {
		return n.Len(), nil
	}
	total := 0
	for i := 0; i <= n.Len(); i++ {
		clo, chi := lo, hi
		if i > 0 {
			clo = n.Keys[i-1]
		}
		if i < n.Len() {
			chi = n.Keys[i]
		}
		c, err := t.verify(n.Child(i), height-1, false, clo, chi)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}
