package objstore

import (
	"sync"

	"github.com/hashicorp/golang-lru/arc/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of resolved objects the default ARC cache
// retains.
const DefaultCacheSize = 1 << 14 // 16K entries

// ObjectCache stores resolved objects keyed by hash.
//
// Implementations must be safe for concurrent use. Cached Records are shared
// by every caller that hits them, so neither the cache nor its users may
// modify Record.Data.
type ObjectCache interface {
	Get(oid Hash) (Record, bool)
	Add(oid Hash, rec Record)
	Len() int
	Purge()
}

// NewARCCache returns an Adaptive Replacement Cache holding up to size
// objects. ARC balances recency against frequency, which suits history walks
// that revisit the same trees and delta bases.
func NewARCCache(size int) (ObjectCache, error) {
	c, err := arc.NewARC[Hash, Record](size)
	if err != nil {
		return nil, err
	}
	return arcCache{c}, nil
}

type arcCache struct{ c *arc.ARCCache[Hash, Record] }

func (a arcCache) Get(oid Hash) (Record, bool) { return a.c.Get(oid) }
func (a arcCache) Add(oid Hash, rec Record)    { a.c.Add(oid, rec) }
func (a arcCache) Len() int                    { return a.c.Len() }
func (a arcCache) Purge()                      { a.c.Purge() }

// NewLRUCache returns a plain least-recently-used cache holding up to size
// objects.
func NewLRUCache(size int) (ObjectCache, error) {
	c, err := lru.New[Hash, Record](size)
	if err != nil {
		return nil, err
	}
	return lruCache{c}, nil
}

type lruCache struct{ c *lru.Cache[Hash, Record] }

func (l lruCache) Get(oid Hash) (Record, bool) { return l.c.Get(oid) }
func (l lruCache) Add(oid Hash, rec Record)    { l.c.Add(oid, rec) }
func (l lruCache) Len() int                    { return l.c.Len() }
func (l lruCache) Purge()                      { l.c.Purge() }

// NewMapCache returns an unbounded cache that never evicts. It is meant for
// short-lived stores and tests.
func NewMapCache() ObjectCache { return &mapCache{m: make(map[Hash]Record)} }

type mapCache struct {
	mu sync.RWMutex
	m  map[Hash]Record
}

func (c *mapCache) Get(oid Hash) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.m[oid]
	return rec, ok
}

func (c *mapCache) Add(oid Hash, rec Record) {
	c.mu.Lock()
	c.m[oid] = rec
	c.mu.Unlock()
}

func (c *mapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *mapCache) Purge() {
	c.mu.Lock()
	clear(c.m)
	c.mu.Unlock()
}

// noCache disables caching altogether.
type noCache struct{}

// NoCache returns an ObjectCache that stores nothing.
func NoCache() ObjectCache { return noCache{} }

func (noCache) Get(Hash) (Record, bool) { return Record{}, false }
func (noCache) Add(Hash, Record)        {}
func (noCache) Len() int                { return 0 }
func (noCache) Purge()                  {}
