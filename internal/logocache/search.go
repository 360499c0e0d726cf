package logocache

import (
	"context"
	"sort"
)

// SearchResult pairs an indexed Entry with its ranking score and the field
// that earned it, for API responses.
type SearchResult struct {
	Entry        *Entry
	Score        int
	MatchedField string
}

// Search implements the search(query) operation: first an exact
// canonical-URL match, then channel-name hash matches, then channel-group
// hash matches, then a substring fallback over sidecar metadata fields.
// Results are ranked by score descending, ties broken by recency.
func (c *Cache) Search(ctx context.Context, query string) ([]SearchResult, error) {
	c.ensureScanned(ctx)

	if query == "" {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	var results []SearchResult

	if entry, ok := c.cacheIndex[CanonicalCacheKey(query)]; ok {
		results = append(results, SearchResult{Entry: entry, Score: 10, MatchedField: "url"})
		seen[entry.URLHash] = struct{}{}
	}

	if set, ok := c.nameIndex[nameHash(query)]; ok {
		for urlHash := range set {
			if _, dup := seen[urlHash]; dup {
				continue
			}
			if entry, ok := c.cacheIndex[urlHash]; ok {
				results = append(results, SearchResult{Entry: entry, Score: 8, MatchedField: "channel_name"})
				seen[urlHash] = struct{}{}
			}
		}
	}

	if set, ok := c.groupIndex[nameHash(query)]; ok {
		for urlHash := range set {
			if _, dup := seen[urlHash]; dup {
				continue
			}
			if entry, ok := c.cacheIndex[urlHash]; ok {
				results = append(results, SearchResult{Entry: entry, Score: 6, MatchedField: "channel_group"})
				seen[urlHash] = struct{}{}
			}
		}
	}

	// Substring fallback: read every remaining entry's sidecar metadata and
	// score its descriptive fields against the query.
	for urlHash, entry := range c.cacheIndex {
		if _, dup := seen[urlHash]; dup {
			continue
		}
		meta, err := c.readSidecar(entry)
		if err != nil {
			continue
		}
		score, field := meta.matchScore(query)
		if score > 0 {
			results = append(results, SearchResult{Entry: entry, Score: score, MatchedField: field})
			seen[urlHash] = struct{}{}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.LastAccessed.After(results[j].Entry.LastAccessed)
	})

	return results, nil
}

// ListAll implements list_all(limit): every indexed entry sorted by
// recency, most recently accessed first, optionally capped at limit.
func (c *Cache) ListAll(ctx context.Context, limit int) []*Entry {
	c.ensureScanned(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*Entry, 0, len(c.cacheIndex))
	for _, e := range c.cacheIndex {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.After(entries[j].LastAccessed)
	})
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// RecentChannelNames returns the bounded LRU of channel names most recently
// resolved through this cache, for autocomplete-style API responses.
func (c *Cache) RecentChannelNames(limit int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.names.recent(limit)
}

func (c *Cache) readSidecar(entry *Entry) (*sidecarMetadata, error) {
	relMeta := entry.RelativePath[:len(entry.RelativePath)-len(extOf(entry.RelativePath))] + ".json"
	data, err := c.sandbox.ReadFile(relMeta)
	if err != nil {
		return nil, err
	}
	return unmarshalSidecar(data)
}

func extOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '.' {
			return p[i:]
		}
		if p[i] == '/' {
			break
		}
	}
	return ""
}
