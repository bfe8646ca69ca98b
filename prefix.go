package ordex

import (
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/btree"
	"github.com/alexhholmes/ordex/internal/keys"
)

func (idx *Index) requireString() error {
	if idx.layout.Type != keys.String {
		return errors.Wrapf(base.ErrIncompatibleKeyType, "prefix operation on %s index", idx.layout.Type)
	}
	return nil
}

// PrefixIterator returns an ascending iterator over all entries whose key
// starts with prefix. Only string indexes support it.
func (idx *Index) PrefixIterator(prefix string) *Iterator {
	if err := idx.requireString(); err != nil {
		return &Iterator{idx: idx, err: err}
	}
	till := StringKey(prefix + string(utf8.MaxRune)).Exclusive()
	return idx.Iterator(StringKey(prefix), till, Ascending)
}

// PrefixSearch returns the values of all entries whose key is a prefix of
// s, shortest key first. Only string indexes support it.
func (idx *Index) PrefixSearch(s string) ([]ObjectID, error) {
	if err := idx.requireString(); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrIndexClosed
	}

	var out []ObjectID
	collect := func(_ []byte, v uint64) bool {
		out = append(out, ObjectID(v))
		return true
	}
	for end := 0; end <= len(s); {
		key, err := idx.layout.Encode(keys.StringValue(s[:end]))
		if err != nil {
			if errors.Is(err, base.ErrKeyTooLarge) {
				// no stored key is longer than this
				break
			}
			return nil, err
		}
		b := &btree.Bound{Key: key, Inclusive: true}
		if err := idx.tree.Find(b, b, collect); err != nil {
			return nil, err
		}
		if end == len(s) {
			break
		}
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	return out, nil
}
