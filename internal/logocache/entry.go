package logocache

import (
	"hash/fnv"
	"strings"
	"time"
)

// Entry is the in-memory index record for one cached logo. It carries only
// hashes and the relative disk path; descriptive strings (URL, channel
// name, group) are never retained here, only in the sidecar metadata file
// so the primary index stays small regardless of catalogue size.
type Entry struct {
	URLHash          string
	ChannelNameHash  uint64
	HasChannelName   bool
	ChannelGroupHash uint64
	HasChannelGroup  bool
	Width            int
	Height           int
	FileSize         int64
	RelativePath     string
	LastAccessed     time.Time
	CreatedAt        time.Time
}

// nameHash computes the stable 64-bit hash used to index channel names and
// groups. It is intentionally non-cryptographic: the index only needs
// collision resistance among a single deployment's channel catalogue, and
// the canonical cache key already carries the SHA-256 used for the
// resolvable identity of a logo.
func nameHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(s))))
	return h.Sum64()
}
