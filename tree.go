// tree.go – tree objects, path lookup and copy-on-write updates
package objstore

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Well-known tree entry modes.
const (
	ModeTree       uint32 = 0o040000
	ModeFile       uint32 = 0o100644
	ModeExecutable uint32 = 0o100755
	ModeSymlink    uint32 = 0o120000
	ModeSubmodule  uint32 = 0o160000

	modeTypeMask uint32 = 0o170000
)

// SubmoduleSuffix marks submodule entries in ListRecursive results.
const SubmoduleSuffix = ":submodule"

var errDetachedTree = errors.New("tree is not attached to a store")

// TreeNode is a single "<mode> <name>\0<hash>" record inside a tree.
//
// IsDir is derived from the directory bit of Mode and is therefore also set
// for submodules; IsSubmodule is set only for gitlink entries. Path walks
// descend into a node only when it is a directory and not a submodule.
type TreeNode struct {
	Name        string
	Mode        uint32
	Hash        Hash
	IsDir       bool
	IsSubmodule bool
}

// NewTreeNode builds a node and derives its flags from mode.
func NewTreeNode(name string, mode uint32, hash Hash) TreeNode {
	return TreeNode{
		Name:        name,
		Mode:        mode,
		Hash:        hash,
		IsDir:       mode&ModeTree != 0,
		IsSubmodule: mode == ModeSubmodule,
	}
}

// descendable reports whether a path walk may enter n.
func (n TreeNode) descendable() bool { return n.IsDir && !n.IsSubmodule }

// sortsAsDir reports whether n takes the implicit trailing slash in Git's
// name order, which applies to real directories only.
func (n TreeNode) sortsAsDir() bool { return n.Mode&modeTypeMask == ModeTree }

// compareNodes orders nodes the way Git orders tree records: byte-wise by
// name, with directory names compared as if they ended in '/'.
func compareNodes(a, b TreeNode) int {
	n := min(len(a.Name), len(b.Name))
	if c := strings.Compare(a.Name[:n], b.Name[:n]); c != 0 {
		return c
	}
	return cmp.Compare(nameTerminator(a, n), nameTerminator(b, n))
}

func nameTerminator(t TreeNode, n int) byte {
	if n < len(t.Name) {
		return t.Name[n]
	}
	if t.sortsAsDir() {
		return '/'
	}
	return 0
}

// Tree is an immutable in-memory view of a Git tree object.
//
// Nodes are kept in canonical order. A Tree obtained from a Store, or built
// with NewTree against one, can resolve its subtrees; a detached tree can
// still be serialized and compared.
type Tree struct {
	// store resolves subtrees during walks. It may be nil.
	store *Store

	// hash is the content address of the canonical serialization.
	hash Hash

	// nodes contains every entry in canonical order.
	nodes []TreeNode

	// index maps entry names to their position in nodes.
	index map[string]int
}

// parseTree decodes a raw tree payload stored under oid.
//
// Records must be in strictly ascending canonical order and names must be
// unique; anything else is ErrCorruptTree.
func parseTree(s *Store, oid Hash, raw []byte) (*Tree, error) {
	t := &Tree{store: s, hash: oid, index: make(map[string]int)}
	err := forEachTreeEntry(NewTreeIter(raw), func(name string, h Hash, mode uint32) error {
		n := NewTreeNode(name, mode, h)
		if err := validateNodeName(name); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptTree, err)
		}
		if len(t.nodes) > 0 && compareNodes(t.nodes[len(t.nodes)-1], n) >= 0 {
			return fmt.Errorf("%w: entry %q out of order", ErrCorruptTree, name)
		}
		if _, dup := t.index[name]; dup {
			return fmt.Errorf("%w: duplicate entry %q", ErrCorruptTree, name)
		}
		t.index[name] = len(t.nodes)
		t.nodes = append(t.nodes, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewTree builds a tree from nodes, which may be given in any order. The
// store, if non-nil, is used to resolve subtrees during walks.
//
// Names must be non-empty, must not contain '/' or NUL, and must be unique.
func NewTree(s *Store, nodes []TreeNode) (*Tree, error) {
	t := &Tree{store: s, index: make(map[string]int, len(nodes))}
	t.nodes = make([]TreeNode, len(nodes))
	for i, n := range nodes {
		if err := validateNodeName(n.Name); err != nil {
			return nil, err
		}
		if n.Mode == 0 {
			return nil, fmt.Errorf("tree entry %q has no mode", n.Name)
		}
		t.nodes[i] = NewTreeNode(n.Name, n.Mode, n.Hash)
	}
	slices.SortFunc(t.nodes, compareNodes)
	for i, n := range t.nodes {
		if _, dup := t.index[n.Name]; dup {
			return nil, fmt.Errorf("duplicate tree entry %q", n.Name)
		}
		t.index[n.Name] = i
	}
	t.hash = HashObject(ObjTree, t.Serialize())
	return t, nil
}

// EmptyTree returns the tree with no entries.
func EmptyTree(s *Store) *Tree {
	t, _ := NewTree(s, nil)
	return t
}

func validateNodeName(name string) error {
	switch {
	case name == "":
		return errors.New("empty tree entry name")
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("tree entry name %q contains '/' or NUL", name)
	}
	return nil
}

// Type implements Object.
func (t *Tree) Type() ObjectType { return ObjTree }

// Hash implements Object.
func (t *Tree) Hash() Hash { return t.hash }

// Serialize returns the canonical payload: one
// "<octal mode> <name>\0<20-byte hash>" record per node, in canonical order.
func (t *Tree) Serialize() []byte {
	size := 0
	for _, n := range t.nodes {
		size += 8 + len(n.Name) + hashSize
	}
	out := make([]byte, 0, size)
	for _, n := range t.nodes {
		out = strconv.AppendUint(out, uint64(n.Mode), 8)
		out = append(out, ' ')
		out = append(out, n.Name...)
		out = append(out, 0)
		out = append(out, n.Hash[:]...)
	}
	return out
}

// Len returns the number of direct entries.
func (t *Tree) Len() int { return len(t.nodes) }

// Nodes returns a copy of the direct entries in canonical order.
func (t *Tree) Nodes() []TreeNode { return slices.Clone(t.nodes) }

// Node returns the direct entry called name.
func (t *Tree) Node(name string) (TreeNode, bool) {
	i, ok := t.index[name]
	if !ok {
		return TreeNode{}, false
	}
	return t.nodes[i], true
}

// subtree loads the tree a directory node points at.
func (t *Tree) subtree(oid Hash) (*Tree, error) {
	if t.store == nil {
		return nil, errDetachedTree
	}
	return t.store.Tree(oid)
}

// splitPath breaks a slash-separated path into its non-empty segments.
func splitPath(path string) []string {
	return slices.DeleteFunc(strings.Split(path, "/"), func(s string) bool { return s == "" })
}

// Find resolves path relative to t and returns the hash of the object it
// names.
//
// Empty segments are ignored, so "a//b/" is the same as "a/b", and an empty
// path names t itself. A missing segment yields found == false with no
// error. Reaching a non-directory, or a submodule, while segments remain is
// ErrInvalidPath.
func (t *Tree) Find(path string) (oid Hash, found bool, err error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return t.hash, true, nil
	}
	cur := t
	for i, seg := range segs {
		n, ok := cur.Node(seg)
		if !ok {
			return Hash{}, false, nil
		}
		if i == len(segs)-1 {
			return n.Hash, true, nil
		}
		if !n.descendable() {
			return Hash{}, false, fmt.Errorf("%w: %q is not a directory", ErrInvalidPath, strings.Join(segs[:i+1], "/"))
		}
		if cur, err = cur.subtree(n.Hash); err != nil {
			return Hash{}, false, err
		}
	}
	return Hash{}, false, nil
}

// ListRecursive maps the full relative path of every non-directory entry
// below t to its hash. Directories are expanded through the store;
// submodules are reported under their path plus SubmoduleSuffix and are
// never expanded.
func (t *Tree) ListRecursive() (map[string]Hash, error) {
	out := make(map[string]Hash)
	if err := t.listInto("", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) listInto(prefix string, out map[string]Hash) error {
	for _, n := range t.nodes {
		path := prefix + n.Name
		switch {
		case n.IsSubmodule:
			out[path+SubmoduleSuffix] = n.Hash
		case n.IsDir:
			sub, err := t.subtree(n.Hash)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := sub.listInto(path+"/", out); err != nil {
				return err
			}
		default:
			out[path] = n.Hash
		}
	}
	return nil
}

// TreeUpdate is the result of a copy-on-write change to a tree.
type TreeUpdate struct {
	// Root is the new top-level tree. When the update changed nothing it is
	// the original tree.
	Root *Tree

	// Created lists every tree built by the update, innermost first and
	// Root last. Persisting them in this order never leaves a written tree
	// pointing at a missing subtree. Subtrees the update did not touch are
	// reused by hash and do not appear here.
	Created []*Tree
}

// UpdateNode sets the entry at path to (mode, hash) and returns the new
// trees the change produced; t itself is not modified.
//
// Missing intermediate directories are created. A mode of 0 removes the
// leaf; removing something that does not exist changes nothing. Passing
// through an existing non-directory, or an empty path, is ErrInvalidPath.
func (t *Tree) UpdateNode(path string, mode uint32, hash Hash) (*TreeUpdate, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	var created []*Tree
	root, changed, err := t.update(segs, mode, hash, &created)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &TreeUpdate{Root: t}, nil
	}
	return &TreeUpdate{Root: root, Created: created}, nil
}

func (t *Tree) update(segs []string, mode uint32, hash Hash, created *[]*Tree) (*Tree, bool, error) {
	name := segs[0]
	cur, exists := t.Node(name)
	nodes := slices.Clone(t.nodes)
	pos := t.index[name]

	if len(segs) == 1 {
		switch {
		case mode == 0 && !exists:
			return t, false, nil
		case mode == 0:
			nodes = slices.Delete(nodes, pos, pos+1)
		case exists && cur.Mode == mode && cur.Hash == hash:
			return t, false, nil
		case exists:
			nodes[pos] = NewTreeNode(name, mode, hash)
		default:
			nodes = append(nodes, NewTreeNode(name, mode, hash))
		}
	} else {
		var sub *Tree
		switch {
		case exists && !cur.descendable():
			return nil, false, fmt.Errorf("%w: %q is not a directory", ErrInvalidPath, name)
		case exists:
			var err error
			if sub, err = t.subtree(cur.Hash); err != nil {
				return nil, false, err
			}
		case mode == 0:
			return t, false, nil
		default:
			sub = EmptyTree(t.store)
		}

		next, changed, err := sub.update(segs[1:], mode, hash, created)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", name, err)
		}
		if !changed {
			return t, false, nil
		}
		dir := NewTreeNode(name, ModeTree, next.hash)
		if exists {
			nodes[pos] = dir
		} else {
			nodes = append(nodes, dir)
		}
	}

	nt, err := NewTree(t.store, nodes)
	if err != nil {
		return nil, false, err
	}
	*created = append(*created, nt)
	return nt, true, nil
}
