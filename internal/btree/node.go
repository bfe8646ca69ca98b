package btree

import (
	"github.com/alexhholmes/ordex/internal/keys"
)

// Ref addresses a node inside its Store. The zero Ref means "no node".
type Ref uint64

// Node represents one level's worth of sorted entries.
//
// Leaf nodes pair Keys[i] with the value reference Refs[i]. Branch nodes hold
// len(Keys)+1 child references: Keys[i] is the largest key reachable through
// Refs[i], and Refs[i+1] holds keys >= Keys[i] (equal only with duplicates).
type Node struct {
	Ref  Ref
	Leaf bool

	Keys [][]byte
	Refs []uint64
}

// Len returns the number of keys in the node.
func (n *Node) Len() int {
	return len(n.Keys)
}

// Key returns the key in slot i.
func (n *Node) Key(i int) []byte {
	return n.Keys[i]
}

// Child returns the i-th child of a branch node.
func (n *Node) Child(i int) Ref {
	return Ref(n.Refs[i])
}

// Compare compares key against the key in slot i.
func (n *Node) Compare(l keys.Layout, key []byte, i int) int {
	return l.Compare(key, n.Keys[i])
}

// Search returns the first slot i where Compare(key, i) < ahead. With ahead=1
// that is the first key >= key; with ahead=0 the first key > key, which
// places new duplicates after the existing run.
func (n *Node) Search(l keys.Layout, key []byte, ahead int) int {
	lo, hi := 0, len(n.Keys)
	for lo < hi {
		i := int(uint(lo+hi) >> 1)
		if l.Compare(key, n.Keys[i]) >= ahead {
			lo = i + 1
		} else {
			hi = i
		}
	}
	return lo
}

// InsertAt inserts key at slot i. In a leaf ref is the value paired with key;
// in a branch ref becomes the child to the right of key.
func (n *Node) InsertAt(i int, key []byte, ref uint64) {
	n.Keys = insertAt(n.Keys, i, key)
	if n.Leaf {
		n.Refs = insertAt(n.Refs, i, ref)
	} else {
		n.Refs = insertAt(n.Refs, i+1, ref)
	}
}

// ClearRange removes count entries starting at slot start. In a branch the
// child to the right of each removed key goes with it.
func (n *Node) ClearRange(start, count int) {
	n.Keys = append(n.Keys[:start], n.Keys[start+count:]...)
	if n.Leaf {
		n.Refs = append(n.Refs[:start], n.Refs[start+count:]...)
	} else {
		n.Refs = append(n.Refs[:start+1], n.Refs[start+1+count:]...)
	}
}

// CloneEmpty returns an unallocated node of the same kind.
func (n *Node) CloneEmpty() *Node {
	return &Node{Leaf: n.Leaf}
}

// Clone creates a deep copy of this node, keeping its Ref.
func (n *Node) Clone() *Node {
	cloned := &Node{
		Ref:  n.Ref,
		Leaf: n.Leaf,
		Keys: make([][]byte, len(n.Keys)),
		Refs: append([]uint64(nil), n.Refs...),
	}
	for i, k := range n.Keys {
		cloned.Keys[i] = append([]byte(nil), k...)
	}
	return cloned
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
