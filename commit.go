package objstore

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
)

// Header is one "key value" line from a commit or tag header block.
// Multi-line values (such as gpgsig) are stored with their continuation
// lines joined by "\n" and the leading space removed.
type Header struct {
	Key   string
	Value string
}

// splitObject separates a commit or tag payload into its header lines and
// message. Continuation lines, which start with a space, are folded into the
// preceding header. hasBody reports whether the blank line ending the headers
// was present; payloads without it must still end in a newline.
func splitObject(raw []byte) (hdrs []Header, msg string, hasBody bool, err error) {
	head, body, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		var ok bool
		if head, ok = bytes.CutSuffix(raw, []byte("\n")); !ok {
			return nil, "", false, corruptf("unterminated header block")
		}
	}
	for _, line := range strings.Split(string(head), "\n") {
		if strings.HasPrefix(line, " ") {
			if len(hdrs) == 0 {
				return nil, "", false, corruptf("continuation line before any header")
			}
			hdrs[len(hdrs)-1].Value += "\n" + line[1:]
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok || key == "" {
			return nil, "", false, corruptf("malformed header line %q", line)
		}
		hdrs = append(hdrs, Header{Key: key, Value: value})
	}
	return hdrs, string(body), found, nil
}

// appendHeader renders h, re-indenting continuation lines.
func appendHeader(out []byte, key, value string) []byte {
	out = append(out, key...)
	out = append(out, ' ')
	out = append(out, strings.ReplaceAll(value, "\n", "\n ")...)
	return append(out, '\n')
}

// Commit is a parsed commit object.
//
// The exported fields are the commit's content and must not be modified once
// the commit has been handed to other code; History results are memoized
// against them.
type Commit struct {
	// Tree is the hash of the root tree.
	Tree Hash

	// Parents lists parent commits in recorded order.
	Parents []Hash

	Author    Stamp
	Committer Stamp

	// Extra holds headers other than tree, parent, author and committer
	// (encoding, gpgsig, mergetag, ...) in their recorded order. They are
	// written after the committer line.
	Extra []Header

	// Message is everything after the blank line that ends the headers.
	Message string

	store *Store
	hash  Hash

	// noBody is set for stored commits whose headers are not followed by a
	// blank line.
	noBody bool

	historyOnce sync.Once
	history     []*Commit
	historyErr  error
}

// parseCommit decodes a raw commit payload stored under oid.
func parseCommit(s *Store, oid Hash, raw []byte) (*Commit, error) {
	hdrs, msg, hasBody, err := splitObject(raw)
	if err != nil {
		return nil, err
	}
	c := &Commit{store: s, hash: oid, Message: msg, noBody: !hasBody}
	var haveTree, haveAuthor, haveCommitter bool
	for _, h := range hdrs {
		switch h.Key {
		case "tree":
			if haveTree {
				return nil, corruptf("commit has two trees")
			}
			if c.Tree, err = ParseHash(h.Value); err != nil {
				return nil, corruptf("commit tree %q", h.Value)
			}
			haveTree = true
		case "parent":
			p, err := ParseHash(h.Value)
			if err != nil {
				return nil, corruptf("commit parent %q", h.Value)
			}
			c.Parents = append(c.Parents, p)
		case "author":
			if c.Author, err = parseStamp(h.Value); err != nil {
				return nil, err
			}
			haveAuthor = true
		case "committer":
			if c.Committer, err = parseStamp(h.Value); err != nil {
				return nil, err
			}
			haveCommitter = true
		default:
			c.Extra = append(c.Extra, h)
		}
	}
	if !haveTree || !haveAuthor || !haveCommitter {
		return nil, corruptf("commit lacks tree, author or committer")
	}
	return c, nil
}

// Type implements Object.
func (c *Commit) Type() ObjectType { return ObjCommit }

// Hash implements Object. For commits built in memory it is computed from
// the current field values.
func (c *Commit) Hash() Hash {
	if !c.hash.IsZero() {
		return c.hash
	}
	return HashObject(ObjCommit, c.Serialize())
}

// Serialize returns the canonical payload.
func (c *Commit) Serialize() []byte {
	out := make([]byte, 0, 256+len(c.Message))
	out = appendHeader(out, "tree", c.Tree.String())
	for _, p := range c.Parents {
		out = appendHeader(out, "parent", p.String())
	}
	out = appendHeader(out, "author", c.Author.String())
	out = appendHeader(out, "committer", c.Committer.String())
	for _, h := range c.Extra {
		out = appendHeader(out, h.Key, h.Value)
	}
	if c.noBody && c.Message == "" {
		return out
	}
	out = append(out, '\n')
	return append(out, c.Message...)
}

// Summary returns the first line of the message.
func (c *Commit) Summary() string {
	first, _, _ := strings.Cut(c.Message, "\n")
	return first
}

// Detail returns everything after the first line of the message.
func (c *Commit) Detail() string {
	_, rest, _ := strings.Cut(c.Message, "\n")
	return rest
}

// RootTree loads the commit's tree.
func (c *Commit) RootTree() (*Tree, error) {
	if c.store == nil {
		return nil, errDetachedTree
	}
	return c.store.Tree(c.Tree)
}

// Find resolves path in the commit's tree; see Tree.Find.
func (c *Commit) Find(path string) (Hash, bool, error) {
	t, err := c.RootTree()
	if err != nil {
		return Hash{}, false, err
	}
	return t.Find(path)
}

// History returns every commit reachable from c, c included, each exactly
// once, ordered so that every commit precedes all of its parents.
//
// The order is Kahn's algorithm: a breadth-first pass counts, for every
// reachable commit, how many distinct reachable commits name it as a
// parent; a stack then releases commits whose count has dropped to zero.
// First parents are released before later ones, so linear stretches come
// out in first-parent order.
//
// The result is computed once and shared by later calls.
func (c *Commit) History() ([]*Commit, error) {
	c.historyOnce.Do(func() { c.history, c.historyErr = c.computeHistory() })
	return c.history, c.historyErr
}

func (c *Commit) computeHistory() ([]*Commit, error) {
	self := c.Hash()
	commits := map[Hash]*Commit{self: c}
	inDegree := map[Hash]int{}

	queue := []*Commit{c}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range uniqueParents(cur) {
			inDegree[p]++
			if _, seen := commits[p]; seen {
				continue
			}
			if c.store == nil {
				return nil, errDetachedTree
			}
			pc, err := c.store.Commit(p)
			if err != nil {
				return nil, fmt.Errorf("parent of %s: %w", cur.Hash(), err)
			}
			commits[p] = pc
			queue = append(queue, pc)
		}
	}

	out := make([]*Commit, 0, len(commits))
	stack := []*Commit{c}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)

		parents := uniqueParents(cur)
		for i := len(parents) - 1; i >= 0; i-- {
			p := parents[i]
			inDegree[p]--
			if inDegree[p] == 0 {
				stack = append(stack, commits[p])
			}
		}
	}
	if len(out) != len(commits) {
		return nil, corruptf("commit graph below %s contains a cycle", self)
	}
	return out, nil
}

// uniqueParents returns c.Parents without repeats, in recorded order.
func uniqueParents(c *Commit) []Hash {
	if len(c.Parents) < 2 {
		return c.Parents
	}
	out := make([]Hash, 0, len(c.Parents))
	for _, p := range c.Parents {
		if !containsHash(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsHash(hs []Hash, h Hash) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

// TreeDiff compares the trees of two commits. Either may be nil, which
// stands for the empty tree; diffing a root commit against nil lists every
// file as added.
func TreeDiff(a, b *Commit) (map[string]ChangeKind, error) {
	var ta, tb *Tree
	var err error
	if a != nil {
		if ta, err = a.RootTree(); err != nil {
			return nil, err
		}
	}
	if b != nil {
		if tb, err = b.RootTree(); err != nil {
			return nil, err
		}
	}
	return DiffTrees(ta, tb)
}
