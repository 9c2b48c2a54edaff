package objstore

import "fmt"

// ObjectType enumerates the kinds of Git objects that can appear in a pack
// or loose-object store.
//
// The numeric values match the 3-bit type tags of the pack entry header.
// The zero value, ObjBad, denotes an invalid or unknown object type.
// The String method returns the canonical, lower-case Git spelling.
type ObjectType byte

const (
	// ObjBad represents an invalid or unspecified object kind.
	ObjBad ObjectType = iota

	// ObjCommit is a regular commit object.
	ObjCommit

	// ObjTree is a directory tree object describing the hierarchy of a commit.
	ObjTree

	// ObjBlob is a file-content blob object.
	ObjBlob

	// ObjTag is an annotated tag object.
	ObjTag

	_ // Reserved by the pack format.

	// ObjOfsDelta is a delta object whose base is addressed by packfile offset.
	ObjOfsDelta

	// ObjRefDelta is a delta object whose base is addressed by object ID.
	ObjRefDelta
)

var typeNames = map[ObjectType]string{
	ObjCommit:   "commit",
	ObjTree:     "tree",
	ObjBlob:     "blob",
	ObjTag:      "tag",
	ObjOfsDelta: "ofs-delta",
	ObjRefDelta: "ref-delta",
}

func (t ObjectType) String() string { return typeNames[t] }

// isBase reports whether t is one of the four storable object kinds.
func (t ObjectType) isBase() bool { return t >= ObjCommit && t <= ObjTag }

// ParseObjectType maps a loose-object header name to its ObjectType.
// Only the four storable kinds are accepted.
func ParseObjectType(name string) (ObjectType, error) {
	switch name {
	case "commit":
		return ObjCommit, nil
	case "tree":
		return ObjTree, nil
	case "blob":
		return ObjBlob, nil
	case "tag":
		return ObjTag, nil
	}
	return ObjBad, fmt.Errorf("%w: unknown object type %q", ErrCorruptObject, name)
}

// Record is a resolved object: its kind plus the canonical payload without
// the "<type> <len>\x00" envelope.
//
// Records are produced by the store, shared through its cache, and consumed
// by the typed wrappers. Data must never be modified once a Record exists.
type Record struct {
	Type ObjectType
	Data []byte
}

// Object is implemented by the typed wrappers Commit, Tree, Tag and Blob.
type Object interface {
	// Type returns the object's storable kind.
	Type() ObjectType

	// Hash returns the content address of the canonical serialization.
	Hash() Hash

	// Serialize returns the canonical payload.
	Serialize() []byte
}

// decodeObject builds the typed wrapper for rec, which was stored under oid.
// The store back-reference is used by trees and commits to resolve what they
// point at.
func decodeObject(s *Store, oid Hash, rec Record) (Object, error) {
	switch rec.Type {
	case ObjBlob:
		return &Blob{Data: rec.Data, hash: oid}, nil
	case ObjTree:
		return parseTree(s, oid, rec.Data)
	case ObjCommit:
		return parseCommit(s, oid, rec.Data)
	case ObjTag:
		return parseTag(oid, rec.Data)
	}
	return nil, fmt.Errorf("%w: cannot decode %v", ErrCorruptObject, rec.Type)
}
