package objstore

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultTreeCacheSize = 4096

// treeCache caches parsed Tree objects keyed by their object ID.
//
// Listings and diffs load the same subtrees over and over; the cache keeps
// the most recently used ones parsed so that each walk only pays for the
// trees it has not seen. The cache is safe for concurrent use and returns
// the same *Tree instance for identical hashes while it stays resident.
type treeCache struct {
	// store provides the raw object data used to populate the cache.
	store *Store

	// mu serializes loads so that a tree is parsed once even when several
	// goroutines miss on it at the same time.
	mu sync.Mutex

	// mem holds already-parsed trees. A nil entry is never stored.
	mem *lru.Cache[Hash, *Tree]
}

func newTreeCache(s *Store, size int) (*treeCache, error) {
	if size <= 0 {
		size = defaultTreeCacheSize
	}
	mem, err := lru.New[Hash, *Tree](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree cache: %w", err)
	}
	return &treeCache{store: s, mem: mem}, nil
}

func (c *treeCache) get(oid Hash) (*Tree, error) {
	if oid.IsZero() { // empty tree for root diffs
		return EmptyTree(c.store), nil
	}

	// Fast path: the LRU is internally synchronized.
	if t, ok := c.mem.Get(oid); ok {
		return t, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check: another goroutine might have loaded it.
	if t, ok := c.mem.Get(oid); ok {
		return t, nil
	}

	rec, err := c.store.record(oid)
	if err != nil {
		return nil, err
	}
	if rec.Type != ObjTree {
		return nil, fmt.Errorf("%w: %s is a %v, not a tree", ErrTypeMismatch, oid, rec.Type)
	}
	obj, err := c.store.decode(oid, rec)
	if err != nil {
		return nil, err
	}
	t := obj.(*Tree)
	c.mem.Add(oid, t)
	return t, nil
}

func (c *treeCache) len() int { return c.mem.Len() }
