// Package btree implements the ordered index: sorted fixed-capacity nodes,
// recursive insert and delete with split, redistribution and merge, range
// traversal, and resumable cursors. Nodes are reached through a Store, so the
// same algorithm runs over in-memory nodes and over buffer-pool pages.
package btree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/keys"
)

const (
	// NodeHeaderSize is the fixed page prefix of a stored node
	NodeHeaderSize = 16
	// RefSize is the width of a child or value reference
	RefSize = 8
	// MinCapacity keeps split halves and merge partners non-empty
	MinCapacity = 3
)

// Capacity derives the maximum number of keys per node from the page size.
// Fixed-width keys divide the page by key width plus reference; variable
// keys are sized at keys.MaxKeySize plus a two-byte length.
func Capacity(l keys.Layout, pageSize int) int {
	w := l.Width()
	if w == 0 {
		w = keys.MaxKeySize + 2
	}
	// a branch carries one reference more than it has keys
	return (pageSize - NodeHeaderSize - RefSize) / (w + RefSize)
}

// Status reports the outcome of a structural operation. Overflow and
// Underflow only travel between recursion levels.
type Status int

const (
	Done Status = iota
	Overflow
	Underflow
	Duplicate
	Overwrite
	NotFound
)

// Result is what an insert or remove reports to its caller.
type Result struct {
	Status Status
	Old    uint64 // previous value for Duplicate, Overwrite and removals

	sep     []byte // separator promoted by an Overflow
	sibling Ref    // right sibling created by an Overflow
}

// Tree coordinates the algorithms over one index.
type Tree struct {
	store  Store
	layout keys.Layout
	unique bool
	max    int

	root    Ref
	height  int
	count   int
	version uint64
}

// New opens the tree whose state is recorded in store. An empty store yields
// an empty tree.
func New(store Store, layout keys.Layout, unique bool, capacity int) (*Tree, error) {
	if capacity < MinCapacity {
		return nil, errors.Wrapf(base.ErrInvalidOptions, "node capacity %d below %d", capacity, MinCapacity)
	}
	m := store.Meta()
	if (m.Root == 0) != (m.Height == 0) || (m.Height == 0) != (m.Count == 0) {
		return nil, errors.Wrapf(base.ErrCorruption,
			"inconsistent tree state: root=%d height=%d count=%d", m.Root, m.Height, m.Count)
	}
	return &Tree{
		store:  store,
		layout: layout,
		unique: unique,
		max:    capacity,
		root:   m.Root,
		height: m.Height,
		count:  m.Count,
	}, nil
}

func (t *Tree) Layout() keys.Layout { return t.layout }
func (t *Tree) Unique() bool        { return t.unique }
func (t *Tree) Capacity() int       { return t.max }
func (t *Tree) Height() int         { return t.height }
func (t *Tree) Count() int          { return t.count }
func (t *Tree) Root() Ref           { return t.root }

// Version changes on every insert, overwrite or removal of an entry. Cursors
// compare it to detect that their stacks may be stale.
func (t *Tree) Version() uint64 { return t.version }

// minFill is the underflow threshold for non-root nodes.
func (t *Tree) minFill() int {
	return t.max / 3
}

func (t *Tree) commit() error {
	t.version++
	return t.store.PutMeta(Meta{Root: t.root, Height: t.height, Count: t.count})
}

// Insert adds key with value. With overwrite an existing equal key of a
// unique tree gets its value replaced (Overwrite); without it the insert is
// refused (Duplicate). Non-unique trees always insert, after any equal keys.
func (t *Tree) Insert(key []byte, value uint64, overwrite bool) (Result, error) {
	key = append([]byte(nil), key...)

	if t.root == 0 {
		root := &Node{Leaf: true, Keys: [][]byte{key}, Refs: []uint64{value}}
		ref, err := t.store.Allocate(root)
		if err != nil {
			return Result{}, err
		}
		t.root, t.height, t.count = ref, 1, 1
		return Result{Status: Done}, t.commit()
	}

	res, err := t.insert(t.root, t.height, key, value, overwrite)
	if err != nil {
		return Result{}, err
	}
	switch res.Status {
	case Overflow:
		root := &Node{
			Keys: [][]byte{res.sep},
			Refs: []uint64{uint64(t.root), uint64(res.sibling)},
		}
		ref, err := t.store.Allocate(root)
		if err != nil {
			return Result{}, err
		}
		t.root = ref
		t.height++
		fallthrough
	case Done:
		t.count++
		return Result{Status: Done}, t.commit()
	case Overwrite:
		// a replaced value invalidates cursors holding copies of the leaf
		t.version++
	}
	return Result{Status: res.Status, Old: res.Old}, nil
}

func (t *Tree) insert(ref Ref, height int, key []byte, value uint64, overwrite bool) (Result, error) {
	n, err := t.store.Load(ref)
	if err != nil {
		return Result{}, err
	}

	ahead := 0
	if t.unique {
		ahead = 1
	}
	r := n.Search(t.layout, key, ahead)

	if height > 1 {
		res, err := t.insert(n.Child(r), height-1, key, value, overwrite)
		if err != nil || res.Status != Overflow {
			return res, err
		}
		return t.place(n, r, res.sep, uint64(res.sibling))
	}

	if r < n.Len() && n.Compare(t.layout, key, r) == 0 {
		if overwrite {
			old := n.Refs[r]
			n.Refs[r] = value
			return Result{Status: Overwrite, Old: old}, t.store.Update(n)
		}
		if t.unique {
			return Result{Status: Duplicate, Old: n.Refs[r]}, nil
		}
	}
	return t.place(n, r, key, value)
}

// place puts key at slot r, splitting n when it is full.
func (t *Tree) place(n *Node, r int, key []byte, ref uint64) (Result, error) {
	if n.Len() < t.max {
		n.InsertAt(r, key, ref)
		return Result{Status: Done}, t.store.Update(n)
	}
	return t.split(n, r, key, ref)
}

// split inserts into a full node and moves the upper half into a new right
// sibling. The half that receives the new entry gets the larger share. A leaf
// promotes a copy of its last lower key; a branch promotes the key itself and
// keeps the child left of it as its last child.
func (t *Tree) split(n *Node, r int, key []byte, ref uint64) (Result, error) {
	n.InsertAt(r, key, ref)
	total := n.Len()
	lower := total / 2
	if r < lower {
		lower = (total + 1) / 2
	}
	if lower < 1 || lower >= total {
		panic(errors.AssertionFailedf("split point %d of %d entries", lower, total))
	}

	sibling := n.CloneEmpty()
	sibling.Keys = append([][]byte(nil), n.Keys[lower:]...)
	sibling.Refs = append([]uint64(nil), n.Refs[lower:]...)

	var sep []byte
	if n.Leaf {
		sep = append([]byte(nil), n.Keys[lower-1]...)
		n.Keys = n.Keys[:lower]
		n.Refs = n.Refs[:lower]
	} else {
		sep = n.Keys[lower-1]
		n.Keys = n.Keys[:lower-1]
		n.Refs = n.Refs[:lower]
	}

	if _, err := t.store.Allocate(sibling); err != nil {
		return Result{}, err
	}
	if err := t.store.Update(n); err != nil {
		return Result{}, err
	}
	return Result{Status: Overflow, sep: sep, sibling: sibling.Ref}, nil
}

// Remove deletes one entry equal to key. When value is non-nil only the
// entry carrying that value qualifies, otherwise the first equal key does.
func (t *Tree) Remove(key []byte, value *uint64) (Result, error) {
	if t.root == 0 {
		return Result{Status: NotFound}, nil
	}

	res, err := t.remove(t.root, t.height, key, value)
	if err != nil {
		return Result{}, err
	}
	if res.Status == NotFound {
		return res, nil
	}

	if res.Status == Underflow {
		root, err := t.store.Load(t.root)
		if err != nil {
			return Result{}, err
		}
		if root.Len() == 0 {
			next := Ref(0)
			if !root.Leaf {
				next = root.Child(0)
			}
			if err := t.store.Free(root.Ref); err != nil {
				return Result{}, err
			}
			t.root = next
			t.height--
		}
	}
	t.count--
	return Result{Status: Done, Old: res.Old}, t.commit()
}

func (t *Tree) remove(ref Ref, height int, key []byte, value *uint64) (Result, error) {
	n, err := t.store.Load(ref)
	if err != nil {
		return Result{}, err
	}
	r := n.Search(t.layout, key, 1)

	if height == 1 {
		for ; r < n.Len() && n.Compare(t.layout, key, r) == 0; r++ {
			if value != nil && n.Refs[r] != *value {
				continue
			}
			old := n.Refs[r]
			n.ClearRange(r, 1)
			if err := t.store.Update(n); err != nil {
				return Result{}, err
			}
			if n.Len() < t.minFill() {
				return Result{Status: Underflow, Old: old}, nil
			}
			return Result{Status: Done, Old: old}, nil
		}
		return Result{Status: NotFound}, nil
	}

	for {
		res, err := t.remove(n.Child(r), height-1, key, value)
		if err != nil {
			return Result{}, err
		}
		switch res.Status {
		case Underflow:
			return t.underflow(n, r, res.Old)
		case NotFound:
			// a run of equal keys may continue into the next child
			if r < n.Len() && n.Compare(t.layout, key, r) == 0 {
				r++
				continue
			}
		}
		return res, nil
	}
}

// underflow resolves a child of n that fell below the fill threshold by
// pairing it with its right sibling, or its left one when it is the last.
func (t *Tree) underflow(n *Node, r int, old uint64) (Result, error) {
	if n.Len() == 0 {
		panic(errors.AssertionFailedf("underflow in child %d of branch %d without siblings", r, n.Ref))
	}
	i := r
	if i == n.Len() {
		i--
	}
	if err := t.rebalance(n, i); err != nil {
		return Result{}, err
	}
	if n.Len() < t.minFill() {
		return Result{Status: Underflow, Old: old}, nil
	}
	return Result{Status: Done, Old: old}, nil
}

// rebalance redistributes entries between children i and i+1 of p when the
// pair cannot fit into one node, and merges them into child i otherwise.
func (t *Tree) rebalance(p *Node, i int) error {
	a, err := t.store.Load(p.Child(i))
	if err != nil {
		return err
	}
	b, err := t.store.Load(p.Child(i + 1))
	if err != nil {
		return err
	}

	if a.Leaf {
		ks := concat(a.Keys, b.Keys)
		rs := concat(a.Refs, b.Refs)
		if len(ks) <= t.max {
			a.Keys, a.Refs = ks, rs
			return t.merge(p, i, a, b)
		}
		mid := len(ks) / 2
		a.Keys, b.Keys = ks[:mid:mid], ks[mid:]
		a.Refs, b.Refs = rs[:mid:mid], rs[mid:]
		p.Keys[i] = append([]byte(nil), a.Keys[mid-1]...)
	} else {
		// the separator comes down between the two key runs
		ks := concat(a.Keys, [][]byte{p.Keys[i]}, b.Keys)
		rs := concat(a.Refs, b.Refs)
		if len(ks) <= t.max {
			a.Keys, a.Refs = ks, rs
			return t.merge(p, i, a, b)
		}
		mid := len(ks) / 2
		p.Keys[i] = ks[mid]
		a.Keys, b.Keys = ks[:mid:mid], ks[mid+1:]
		a.Refs, b.Refs = rs[:mid+1:mid+1], rs[mid+1:]
	}

	if a.Len() < t.minFill() || b.Len() < t.minFill() {
		panic(errors.AssertionFailedf("redistribution left %d and %d keys, minimum %d",
			a.Len(), b.Len(), t.minFill()))
	}
	if err := t.store.Update(a); err != nil {
		return err
	}
	if err := t.store.Update(b); err != nil {
		return err
	}
	return t.store.Update(p)
}

// merge drops separator i and the emptied right node b from p.
func (t *Tree) merge(p *Node, i int, a, b *Node) error {
	p.ClearRange(i, 1)
	if err := t.store.Update(a); err != nil {
		return err
	}
	if err := t.store.Free(b.Ref); err != nil {
		return err
	}
	return t.store.Update(p)
}

func concat[T any](parts ...[]T) []T {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]T, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
