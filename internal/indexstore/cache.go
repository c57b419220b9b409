package indexstore

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/54b3r/bookqa-go/internal/vectorindex"
)

// cacheEntry is a deserialised index and the time it was loaded.
type cacheEntry struct {
	// index is the cached index.
	index *vectorindex.Index
	// loaded is when the entry was stored.
	loaded time.Time
}

// indexCache is a size-bounded LRU of deserialised indexes whose entries
// expire after ttl. Every invalidation bumps the book's generation; a load
// that started under an older generation is not cached.
type indexCache struct {
	// mu guards entries and gens; lru.Cache is not safe for concurrent use.
	mu sync.Mutex
	// entries maps book id to *cacheEntry.
	entries *lru.Cache
	// gens counts invalidations per book id.
	gens map[string]uint64
	// ttl is the maximum age of an entry; zero disables expiry.
	ttl time.Duration
	// now is the clock, replaceable in tests.
	now func() time.Time
}

// newIndexCache returns nil when size is not positive, disabling caching.
func newIndexCache(size int, ttl time.Duration) *indexCache {
	if size <= 0 {
		return nil
	}
	return &indexCache{entries: lru.New(size), gens: make(map[string]uint64), ttl: ttl, now: time.Now}
}

func (c *indexCache) get(bookID string) (*vectorindex.Index, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(bookID)
	if !ok {
		return nil, false
	}
	e := v.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(e.loaded) > c.ttl {
		c.entries.Remove(bookID)
		return nil, false
	}
	return e.index, true
}

// generation returns bookID's current generation. Callers read it before
// loading from storage and hand it back to add.
func (c *indexCache) generation(bookID string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[bookID]
}

// add stores idx unless bookID was invalidated after gen was read.
func (c *indexCache) add(bookID string, idx *vectorindex.Index, gen uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[bookID] != gen {
		return
	}
	c.entries.Add(bookID, &cacheEntry{index: idx, loaded: c.now()})
}

// invalidate drops bookID's entry and bumps its generation.
func (c *indexCache) invalidate(bookID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(bookID)
	c.gens[bookID]++
}
