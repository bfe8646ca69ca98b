package btree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
)

// Meta is the per-tree state a Store persists alongside the nodes.
type Meta struct {
	Root   Ref
	Height int
	Count  int
}

// Store supplies node storage to a Tree. Nodes returned by Load may be
// private copies, so every mutated node must be handed back through Update.
type Store interface {
	// Load fetches the node addressed by ref.
	Load(ref Ref) (*Node, error)
	// Allocate assigns n a fresh Ref and stores it.
	Allocate(n *Node) (Ref, error)
	// Update marks n dirty and stores its current contents.
	Update(n *Node) error
	// Free releases the node addressed by ref.
	Free(ref Ref) error
	// Meta returns the last stored tree state.
	Meta() Meta
	// PutMeta records the tree state after a structural change.
	PutMeta(m Meta) error
}

// Arena is the in-memory Store: nodes live as Go objects in a slice and a
// Ref is the slot index plus one. Load hands out the live node, so Update is
// a no-op.
type Arena struct {
	nodes []*Node
	free  []Ref
	meta  Meta
}

// NewArena creates an empty in-memory store.
func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) Load(ref Ref) (*Node, error) {
	if ref == 0 || int(ref) > len(a.nodes) || a.nodes[ref-1] == nil {
		return nil, errors.Wrapf(base.ErrCorruption, "arena: dangling node reference %d", ref)
	}
	return a.nodes[ref-1], nil
}

func (a *Arena) Allocate(n *Node) (Ref, error) {
	if last := len(a.free) - 1; last >= 0 {
		n.Ref = a.free[last]
		a.free = a.free[:last]
		a.nodes[n.Ref-1] = n
		return n.Ref, nil
	}
	a.nodes = append(a.nodes, n)
	n.Ref = Ref(len(a.nodes))
	return n.Ref, nil
}

func (a *Arena) Update(n *Node) error {
	if n.Ref == 0 || int(n.Ref) > len(a.nodes) {
		return errors.Wrapf(base.ErrCorruption, "arena: update of unallocated node %d", n.Ref)
	}
	a.nodes[n.Ref-1] = n
	return nil
}

func (a *Arena) Free(ref Ref) error {
	if ref == 0 || int(ref) > len(a.nodes) || a.nodes[ref-1] == nil {
		return errors.Wrapf(base.ErrCorruption, "arena: double free of node %d", ref)
	}
	a.nodes[ref-1] = nil
	a.free = append(a.free, ref)
	return nil
}

func (a *Arena) Meta() Meta {
	return a.meta
}

func (a *Arena) PutMeta(m Meta) error {
	a.meta = m
	return nil
}

// Live returns the number of allocated nodes.
func (a *Arena) Live() int {
	return len(a.nodes) - len(a.free)
}
