package expression

import (
	"container/list"
	"sync"
)

// ParserCache is a bounded LRU cache of parsed expressions, keyed on the
// raw expression text as passed in (before preprocessing). Filter and data-mapping rules are
// evaluated against every record in a source, so re-lexing and
// re-parsing the same handful of rule strings per record would dominate
// pipeline run time; caching the parse once per distinct rule text is the
// difference between O(rules) and O(rules*records) parse calls.
type ParserCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key   string
	value *ParsedExpression
}

// NewParserCache creates a cache holding up to capacity distinct parsed
// expressions. A non-positive capacity disables eviction (unbounded).
func NewParserCache(capacity int) *ParserCache {
	return &ParserCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// GetOrParse returns the cached ParsedExpression for raw, preprocessing
// and parsing it on a miss.
func (c *ParserCache) GetOrParse(raw string) (*ParsedExpression, error) {
	c.mu.Lock()
	if el, ok := c.entries[raw]; ok {
		c.order.MoveToFront(el)
		c.hits++
		parsed := el.Value.(*cacheEntry).value
		c.mu.Unlock()
		return parsed, nil
	}
	c.misses++
	c.mu.Unlock()

	parsed, err := PreprocessAndParse(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[raw]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).value, nil
	}
	el := c.order.PushFront(&cacheEntry{key: raw, value: parsed})
	c.entries[raw] = el
	c.evictIfNeeded()

	return parsed, nil
}

func (c *ParserCache) evictIfNeeded() {
	if c.capacity <= 0 {
		return
	}
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// CacheStats reports cache hit/miss counters and current size.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Size    int
	HitRate float64
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (c *ParserCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    c.order.Len(),
		HitRate: hitRate,
	}
}

// Clear empties the cache and resets counters.
func (c *ParserCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.hits = 0
	c.misses = 0
}
