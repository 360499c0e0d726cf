package logocache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strings"
)

// CanonicalCacheKey computes the stable cache key for a logo URL: the
// SHA-256 hex digest of host[:port] (default ports omitted), the path with
// its final-segment extension stripped, and the query parameters sorted
// lexicographically by key. Scheme and fragment never participate, so
// http/https variants and CDN cache-busting fragments collapse onto the
// same entry.
func CanonicalCacheKey(rawURL string) string {
	return hex.EncodeToString(canonicalHash(rawURL))
}

func canonicalHash(rawURL string) []byte {
	sum := sha256.Sum256([]byte(canonicalize(rawURL)))
	return sum[:]
}

func canonicalize(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.ToLower(rawURL)
	}

	host := strings.ToLower(parsed.Host)
	switch parsed.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	p := strings.TrimSuffix(parsed.EscapedPath(), "/")
	if ext := path.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}

	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(host)
	b.WriteString(p)
	if len(keys) > 0 {
		b.WriteByte('?')
		for i, k := range keys {
			vals := query[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i+j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(k)
				b.WriteByte('=')
				b.WriteString(v)
			}
		}
	}
	return b.String()
}

// shard returns the two-character directory shard for a cache key, keeping
// any single cache directory from holding more than ~1/256th of all entries.
func shard(cacheKey string) string {
	if len(cacheKey) < 2 {
		return "00"
	}
	return cacheKey[:2]
}
