// tree_iter.go
//
// Forward-only iterator over the records of a raw tree object.
// Parses one "<mode> <name>\0<hash>" record at a time directly from the
// payload, so callers that only scan a tree never build the node slice.

package objstore

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrCorruptTree reports a tree payload that does not decode into a
// canonical, strictly ordered record list. It wraps ErrCorruptObject.
var ErrCorruptTree = fmt.Errorf("%w: corrupt tree object", ErrCorruptObject)

// TreeIter provides a forward-only iterator over the entries of a raw Git
// tree object.
//
// Callers create a TreeIter through Store.TreeIter or NewTreeIter and call
// Next repeatedly until it returns ok == false. The iterator keeps a
// reference to the raw tree bytes and advances through that slice in place.
// Each TreeIter instance must remain confined to the goroutine that consumes
// it, and the underlying byte slice must stay immutable for the life of the
// iterator.
type TreeIter struct {
	// rest holds the unread portion of the raw tree object.
	// It is mutated by Next; external code must treat it as opaque.
	rest []byte
}

// NewTreeIter returns an iterator over the raw tree payload raw.
func NewTreeIter(raw []byte) *TreeIter { return &TreeIter{rest: raw} }

// Next parses and returns the next entry in the raw Git tree.
//
// It yields the entry's file name, object ID, and file mode.
// When ok is false the iterator has been exhausted and, by convention,
// err is io.EOF.
// Any malformed input results in ok == false and a non-nil err wrapping
// ErrCorruptTree.
func (it *TreeIter) Next() (name string, oid Hash, mode uint32, ok bool, err error) {
	if len(it.rest) == 0 {
		return "", Hash{}, 0, false, io.EOF
	}

	// The shortest record is a one-digit mode, a space, a one-byte name, the
	// NUL and the hash.
	if len(it.rest) < 4+hashSize {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: insufficient data for tree entry (%d bytes)", ErrCorruptTree, len(it.rest),
		)
	}

	/* ---- <mode> (octal) -------------------------------------------- */
	sp := bytes.IndexByte(it.rest, ' ')
	if sp <= 0 || sp > 7 {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: no space after mode (data: %s)", ErrCorruptTree, hex.EncodeToString(it.rest[:min(len(it.rest), 16)]),
		)
	}
	for _, b := range it.rest[:sp] {
		if b < '0' || b > '7' {
			return "", Hash{}, 0, false, fmt.Errorf(
				"%w: invalid octal digit '%c' in mode (mode so far: %o)", ErrCorruptTree, b, mode,
			)
		}
		mode = mode<<3 | uint32(b-'0')
	}
	it.rest = it.rest[sp+1:]

	/* ---- <name>\0 --------------------------------------------------- */
	nul := bytes.IndexByte(it.rest, 0)
	if nul <= 0 {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: missing or empty filename after mode %o", ErrCorruptTree, mode,
		)
	}
	name = string(it.rest[:nul])
	it.rest = it.rest[nul+1:]

	/* ---- <sha1> (20 bytes) ----------------------------------------- */
	if len(it.rest) < hashSize {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: insufficient bytes for SHA (%d < 20), name=%q, mode=%o", ErrCorruptTree, len(it.rest), name, mode,
		)
	}
	copy(oid[:], it.rest[:hashSize])
	it.rest = it.rest[hashSize:]

	return name, oid, mode, true, nil
}

// TreeIter returns a streaming iterator over the tree identified by oid.
func (s *Store) TreeIter(oid Hash) (*TreeIter, error) {
	raw, typ, err := s.Get(oid)
	if err != nil {
		return nil, err
	}
	if typ != ObjTree {
		return nil, fmt.Errorf("%w: %s is a %v, not a tree", ErrTypeMismatch, oid, typ)
	}
	return NewTreeIter(raw), nil
}

// forEachTreeEntry drives it to exhaustion, calling fn for every record.
func forEachTreeEntry(it *TreeIter, fn func(name string, oid Hash, mode uint32) error) error {
	for {
		name, oid, mode, ok, err := it.Next()
		if !ok {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(name, oid, mode); err != nil {
			return err
		}
	}
}
