package objstore

import (
	"slices"
	"strings"
)

// ChangeKind classifies a path in a tree diff.
type ChangeKind uint8

const (
	// Removed marks a path present only in the old tree.
	Removed ChangeKind = iota + 1

	// Added marks a path present only in the new tree.
	Added

	// Changed marks a path present in both trees with different hashes.
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Removed:
		return "removed"
	case Added:
		return "added"
	case Changed:
		return "changed"
	}
	return "unknown"
}

// Letter returns the one-letter status Git prints for k.
func (k ChangeKind) Letter() string {
	switch k {
	case Removed:
		return "D"
	case Added:
		return "A"
	case Changed:
		return "M"
	}
	return "?"
}

// Invert returns the kind the same path has when the diff runs the other
// way: Added and Removed swap, Changed stays.
func (k ChangeKind) Invert() ChangeKind {
	switch k {
	case Added:
		return Removed
	case Removed:
		return Added
	}
	return k
}

// Change is one entry of a diff in path order.
type Change struct {
	Path string
	Kind ChangeKind
}

// DiffTrees compares two trees file by file. A nil tree stands for the empty
// tree.
//
// Both sides are flattened with ListRecursive, their paths sorted and the two
// lists merge-walked in a single pass. A path only in a is Removed, only in b
// Added, and in both with a different hash Changed; unchanged paths are not
// reported.
func DiffTrees(a, b *Tree) (map[string]ChangeKind, error) {
	la, err := flatten(a)
	if err != nil {
		return nil, err
	}
	lb, err := flatten(b)
	if err != nil {
		return nil, err
	}

	pa, pb := sortedKeys(la), sortedKeys(lb)
	out := make(map[string]ChangeKind)

	// Merge-walk indices for the old and new path lists.
	i, j := 0, 0
	for i < len(pa) || j < len(pb) {
		switch {
		case i == len(pa):
			out[pb[j]] = Added
			j++
		case j == len(pb):
			out[pa[i]] = Removed
			i++
		default:
			switch c := strings.Compare(pa[i], pb[j]); {
			case c == 0:
				if la[pa[i]] != lb[pb[j]] {
					out[pa[i]] = Changed
				}
				i, j = i+1, j+1
			case c < 0:
				out[pa[i]] = Removed
				i++
			default:
				out[pb[j]] = Added
				j++
			}
		}
	}
	return out, nil
}

func flatten(t *Tree) (map[string]Hash, error) {
	if t == nil {
		return map[string]Hash{}, nil
	}
	return t.ListRecursive()
}

func sortedKeys(m map[string]Hash) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SortedChanges returns the entries of a DiffTrees result in path order.
func SortedChanges(diff map[string]ChangeKind) []Change {
	out := make([]Change, 0, len(diff))
	for p, k := range diff {
		out = append(out, Change{Path: p, Kind: k})
	}
	slices.SortFunc(out, func(x, y Change) int { return strings.Compare(x.Path, y.Path) })
	return out
}
