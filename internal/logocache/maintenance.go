package logocache

import (
	"context"
	"sort"
	"time"
)

// MaintenanceResult reports what run_maintenance did.
type MaintenanceResult struct {
	RemovedBySize int
	RemovedByAge  int
	BytesFreed    int64
	Duration      time.Duration
}

// RemoveByCacheID implements remove_by_cache_id: deletes the image and
// sidecar for the given url_hash and drops it from every index.
func (c *Cache) RemoveByCacheID(cacheID string) (bool, error) {
	c.mu.Lock()
	entry, ok := c.cacheIndex[cacheID]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	c.removeLocked(entry)
	c.mu.Unlock()

	return true, c.deleteFiles(entry)
}

// RemoveByFilename implements remove_by_filename: deletes whichever entry's
// relative path ends in the given filename.
func (c *Cache) RemoveByFilename(filename string) (bool, error) {
	c.mu.Lock()
	var target *Entry
	for _, e := range c.cacheIndex {
		if pathBase(e.RelativePath) == filename {
			target = e
			break
		}
	}
	if target == nil {
		c.mu.Unlock()
		return false, nil
	}
	c.removeLocked(target)
	c.mu.Unlock()

	return true, c.deleteFiles(target)
}

// ClearAllCache implements clear_all_cache: drops every entry from the
// index and deletes the entire logos directory tree.
func (c *Cache) ClearAllCache() error {
	c.mu.Lock()
	c.cacheIndex = make(map[string]*Entry)
	c.nameIndex = make(map[uint64]map[string]struct{})
	c.groupIndex = make(map[uint64]map[string]struct{})
	c.mu.Unlock()

	exists, err := c.sandbox.Exists(logosDir)
	if err != nil || !exists {
		return err
	}
	return c.sandbox.RemoveAll(logosDir)
}

// RunMaintenance implements run_maintenance(max_size_mb, max_age_days): it
// evicts the oldest-accessed entries once the catalogue exceeds
// maxSizeMB, then evicts whatever remains older than maxAgeDays.
func (c *Cache) RunMaintenance(ctx context.Context, maxSizeMB int64, maxAgeDays int) MaintenanceResult {
	start := time.Now()
	c.ensureScanned(ctx)

	c.mu.Lock()
	entries := make([]*Entry, 0, len(c.cacheIndex))
	for _, e := range c.cacheIndex {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.Before(entries[j].LastAccessed)
	})

	var result MaintenanceResult
	maxBytes := maxSizeMB * 1024 * 1024
	var total int64
	for _, e := range entries {
		total += e.FileSize
	}

	var toDelete []*Entry
	if maxBytes > 0 {
		for _, e := range entries {
			if total <= maxBytes {
				break
			}
			toDelete = append(toDelete, e)
			total -= e.FileSize
			result.RemovedBySize++
			result.BytesFreed += e.FileSize
		}
	}
	deleted := make(map[string]struct{}, len(toDelete))
	for _, e := range toDelete {
		deleted[e.URLHash] = struct{}{}
	}

	if maxAgeDays > 0 {
		cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
		for _, e := range entries {
			if _, already := deleted[e.URLHash]; already {
				continue
			}
			if e.LastAccessed.Before(cutoff) {
				toDelete = append(toDelete, e)
				deleted[e.URLHash] = struct{}{}
				result.RemovedByAge++
				result.BytesFreed += e.FileSize
			}
		}
	}

	for _, e := range toDelete {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	for _, e := range toDelete {
		_ = c.deleteFiles(e)
	}

	result.Duration = time.Since(start)
	return result
}

func (c *Cache) removeLocked(entry *Entry) {
	delete(c.cacheIndex, entry.URLHash)
	if entry.HasChannelName {
		if set, ok := c.nameIndex[entry.ChannelNameHash]; ok {
			delete(set, entry.URLHash)
		}
	}
	if entry.HasChannelGroup {
		if set, ok := c.groupIndex[entry.ChannelGroupHash]; ok {
			delete(set, entry.URLHash)
		}
	}
}

func (c *Cache) deleteFiles(entry *Entry) error {
	relMeta := entry.RelativePath[:len(entry.RelativePath)-len(extOf(entry.RelativePath))] + ".json"
	_ = c.sandbox.Remove(entry.RelativePath)
	return c.sandbox.Remove(relMeta)
}

func pathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
