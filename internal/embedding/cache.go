package embedding

// cacheEntry holds a cached vector and its last-access tick.
type cacheEntry struct {
	vector     []float32
	lastAccess uint64
}

// lruCache is a bounded text→vector cache with least-recently-used
// eviction. Recency is tracked with a monotonic access counter rather
// than map iteration order, so eviction is deterministic under a fixed
// call sequence. Not safe for concurrent use; the Embedder serializes
// access with its own mutex.
type lruCache struct {
	max     int
	tick    uint64
	entries map[string]*cacheEntry
}

func newLRUCache(max int) *lruCache {
	return &lruCache{
		max:     max,
		entries: make(map[string]*cacheEntry, max),
	}
}

// get returns the cached vector and bumps its access counter.
func (c *lruCache) get(key string) ([]float32, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.tick++
	e.lastAccess = c.tick
	return e.vector, true
}

// put inserts a vector, evicting the least-recently-used entry first
// when the cache is at capacity. The size bound holds after every insert.
func (c *lruCache) put(key string, vector []float32) {
	if c.max <= 0 {
		return
	}
	if e, ok := c.entries[key]; ok {
		c.tick++
		e.vector = vector
		e.lastAccess = c.tick
		return
	}

	if len(c.entries) >= c.max {
		var oldestKey string
		oldest := uint64(0)
		first := true
		for k, e := range c.entries {
			if first || e.lastAccess < oldest {
				oldestKey = k
				oldest = e.lastAccess
				first = false
			}
		}
		delete(c.entries, oldestKey)
	}

	c.tick++
	c.entries[key] = &cacheEntry{vector: vector, lastAccess: c.tick}
}

func (c *lruCache) len() int {
	return len(c.entries)
}
