// Package logocache implements the logo cache service (C7): a disk-backed
// store of channel/programme logo images, fronted by an in-memory index so
// repeated lookups for the same URL never touch the filesystem beyond the
// initial fetch. It is the concrete type behind core.LogoResolver.
package logocache

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
	"github.com/jmylchreest/m3uproxy-core/internal/urlutil"
)

const (
	logosDir            = "logos"
	defaultNameLRUSize   = 2048
	defaultFetchTimeout  = 15 * time.Second
	defaultMaxImageBytes = 8 << 20 // 8 MiB, generous for a channel logo
)

// Fetcher retrieves the bytes of a remote resource. urlutil.ResourceFetcher
// satisfies this; tests supply a stub.
type Fetcher interface {
	Fetch(ctx context.Context, u string) (io.ReadCloser, error)
}

// Config configures a Cache.
type Config struct {
	// BaseURL is prefixed to relative image paths to build serving URLs,
	// e.g. "http://localhost:8080".
	BaseURL string
	// FetchTimeout bounds a single remote logo fetch.
	FetchTimeout time.Duration
	// MaxImageBytes caps how much of a remote response is read.
	MaxImageBytes int64
	// NameLRUSize bounds the recently-resolved-channel-name LRU.
	NameLRUSize int
	Logger      *slog.Logger
	Fetcher     Fetcher
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = defaultMaxImageBytes
	}
	if c.NameLRUSize <= 0 {
		c.NameLRUSize = defaultNameLRUSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Fetcher == nil {
		c.Fetcher = urlutil.NewDefaultResourceFetcher()
	}
	return c
}

// Cache is the logo cache service. It implements core.LogoResolver.
type Cache struct {
	cfg     Config
	sandbox *sandbox.Sandbox

	mu          sync.RWMutex
	cacheIndex  map[string]*Entry            // url_hash -> entry
	nameIndex   map[uint64]map[string]struct{} // name_hash -> set of url_hash
	groupIndex  map[uint64]map[string]struct{}
	names       *nameLRU
	scanned     bool
	scanStarted bool
}

// New creates a Cache rooted at logos/ under sb. It starts no scan itself:
// the index is populated from logos already on disk by StartBackgroundScan
// or on first use of search, list-all or maintenance; ResolveLogo does not
// wait on that scan.
func New(sb *sandbox.Sandbox, cfg Config) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		cfg:        cfg,
		sandbox:    sb,
		cacheIndex: make(map[string]*Entry),
		nameIndex:  make(map[uint64]map[string]struct{}),
		groupIndex: make(map[uint64]map[string]struct{}),
		names:      newNameLRU(cfg.NameLRUSize),
	}
	return c
}

// StartBackgroundScan launches the lazy filesystem scan exactly once. The
// caller decides when; callers that never need search/list_all/maintenance
// before the first resolution can skip calling it and rely on
// ensureScanned being triggered on first use of those operations.
func (c *Cache) StartBackgroundScan(ctx context.Context) {
	c.mu.Lock()
	if c.scanStarted {
		c.mu.Unlock()
		return
	}
	c.scanStarted = true
	c.mu.Unlock()

	go func() {
		if err := c.scan(ctx); err != nil {
			c.cfg.Logger.Warn("logo cache background scan failed", slog.String("error", err.Error()))
		}
	}()
}

func (c *Cache) ensureScanned(ctx context.Context) {
	c.mu.RLock()
	done := c.scanned
	c.mu.RUnlock()
	if done {
		return
	}
	if err := c.scan(ctx); err != nil {
		c.cfg.Logger.Warn("logo cache scan failed", slog.String("error", err.Error()))
	}
}

// scan walks logos/<shard>/*.json sidecar files and populates the index.
// It is safe to run concurrently with ResolveLogo: entries already present
// are left untouched (resolution always wins a race against the scan).
func (c *Cache) scan(ctx context.Context) error {
	exists, err := c.sandbox.Exists(logosDir)
	if err != nil {
		return err
	}
	if !exists {
		c.mu.Lock()
		c.scanned = true
		c.mu.Unlock()
		return nil
	}

	var found []*sidecarMetadata
	err = c.sandbox.Walk(logosDir, func(relPath string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info != nil && info.IsDir() {
			return nil
		}
		if path.Ext(relPath) != ".json" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		data, readErr := c.sandbox.ReadFile(relPath)
		if readErr != nil {
			return nil
		}
		meta, parseErr := unmarshalSidecar(data)
		if parseErr != nil {
			return nil
		}
		found = append(found, meta)
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, meta := range found {
		if _, exists := c.cacheIndex[meta.URLHash]; exists {
			continue
		}
		c.indexLocked(meta, imagePathForHash(meta.URLHash, extFromContentType(meta.ContentType)))
	}
	c.scanned = true
	return nil
}

// ResolveLogo implements core.LogoResolver. It returns a stable serving URL
// for originalURL, fetching and caching the image on first use.
func (c *Cache) ResolveLogo(ctx context.Context, originalURL, channelName, channelGroup string) (string, error) {
	if originalURL == "" {
		return "", fmt.Errorf("logocache: empty url")
	}
	key := CanonicalCacheKey(originalURL)

	c.mu.RLock()
	entry, hit := c.cacheIndex[key]
	c.mu.RUnlock()

	if hit {
		c.touch(entry, channelName)
		return c.servingURL(entry), nil
	}

	// Not indexed yet; it may already exist on disk from a prior run whose
	// scan hasn't completed. Check directly before re-fetching.
	ext, relImage, relMeta := c.pathsFor(key, "")
	if metaExists, _ := c.sandbox.Exists(relMeta); metaExists {
		if data, err := c.sandbox.ReadFile(relMeta); err == nil {
			if meta, err := unmarshalSidecar(data); err == nil {
				c.mu.Lock()
				e := c.indexLocked(meta, relImage)
				c.mu.Unlock()
				c.touch(e, channelName)
				return c.servingURL(e), nil
			}
		}
	}

	return c.fetchAndStore(ctx, key, originalURL, channelName, channelGroup, ext, relImage, relMeta)
}

func (c *Cache) fetchAndStore(ctx context.Context, key, originalURL, channelName, channelGroup, ext, relImage, relMeta string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	body, err := c.cfg.Fetcher.Fetch(fetchCtx, originalURL)
	if err != nil {
		return "", fmt.Errorf("logocache: fetching %s: %w", originalURL, err)
	}
	defer body.Close()

	limited := io.LimitReader(body, c.cfg.MaxImageBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("logocache: reading %s: %w", originalURL, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("logocache: empty response for %s", originalURL)
	}

	contentType := sniffContentType(data)
	if ext == "" {
		ext = extFromContentType(contentType)
	}
	relImage = imagePathForHash(key, ext)

	width, height := decodeDimensions(data)

	if _, err := c.sandbox.WriteFile(relImage, data); err != nil {
		return "", fmt.Errorf("logocache: writing image: %w", err)
	}

	now := time.Now().UTC()
	meta := &sidecarMetadata{
		URLHash:      key,
		OriginalURL:  originalURL,
		ChannelName:  channelName,
		ChannelGroup: channelGroup,
		ContentType:  contentType,
		Width:        width,
		Height:       height,
		FileSize:     int64(len(data)),
		CreatedAt:    now,
		LastAccessed: now,
	}
	metaBytes, err := meta.marshal()
	if err != nil {
		return "", fmt.Errorf("logocache: marshalling metadata: %w", err)
	}
	if _, err := c.sandbox.WriteFile(relMeta, metaBytes); err != nil {
		_ = c.sandbox.Remove(relImage)
		return "", fmt.Errorf("logocache: writing metadata: %w", err)
	}

	c.mu.Lock()
	entry := c.indexLocked(meta, relImage)
	c.mu.Unlock()
	c.touch(entry, channelName)

	return c.servingURL(entry), nil
}

// AddLogo registers a logo whose bytes are already on disk at filePath
// (relative to the sandbox), per the add_logo operation. Used when a logo
// is supplied out of band (e.g. uploaded) rather than fetched by URL.
func (c *Cache) AddLogo(originalURL, channelName, channelGroup, filePath string, width, height int) (*Entry, error) {
	key := CanonicalCacheKey(originalURL)
	info, err := c.sandbox.Size(filePath)
	if err != nil {
		return nil, fmt.Errorf("logocache: stat %s: %w", filePath, err)
	}
	now := time.Now().UTC()
	meta := &sidecarMetadata{
		URLHash:      key,
		OriginalURL:  originalURL,
		ChannelName:  channelName,
		ChannelGroup: channelGroup,
		Width:        width,
		Height:       height,
		FileSize:     info,
		CreatedAt:    now,
		LastAccessed: now,
	}
	relMeta := filePath + ".json"
	metaBytes, err := meta.marshal()
	if err != nil {
		return nil, err
	}
	if _, err := c.sandbox.WriteFile(relMeta, metaBytes); err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry := c.indexLocked(meta, filePath)
	c.mu.Unlock()
	return entry, nil
}

func (c *Cache) indexLocked(meta *sidecarMetadata, relImage string) *Entry {
	entry := &Entry{
		URLHash:      meta.URLHash,
		Width:        meta.Width,
		Height:       meta.Height,
		FileSize:     meta.FileSize,
		RelativePath: relImage,
		LastAccessed: meta.LastAccessed,
		CreatedAt:    meta.CreatedAt,
	}
	if meta.ChannelName != "" {
		entry.ChannelNameHash = nameHash(meta.ChannelName)
		entry.HasChannelName = true
		c.addToSetIndex(c.nameIndex, entry.ChannelNameHash, meta.URLHash)
	}
	if meta.ChannelGroup != "" {
		entry.ChannelGroupHash = nameHash(meta.ChannelGroup)
		entry.HasChannelGroup = true
		c.addToSetIndex(c.groupIndex, entry.ChannelGroupHash, meta.URLHash)
	}
	c.cacheIndex[meta.URLHash] = entry
	return entry
}

func (c *Cache) addToSetIndex(idx map[uint64]map[string]struct{}, h uint64, urlHash string) {
	set, ok := idx[h]
	if !ok {
		set = make(map[string]struct{})
		idx[h] = set
	}
	set[urlHash] = struct{}{}
}

func (c *Cache) touch(entry *Entry, channelName string) {
	c.mu.Lock()
	entry.LastAccessed = time.Now().UTC()
	c.mu.Unlock()
	c.names.touch(channelName)
}

func (c *Cache) servingURL(entry *Entry) string {
	rel := strings.TrimPrefix(entry.RelativePath, "/")
	if c.cfg.BaseURL == "" {
		return "/" + rel
	}
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + rel
}

func (c *Cache) pathsFor(key, ext string) (resolvedExt, relImage, relMeta string) {
	if ext == "" {
		ext = ".png"
	}
	relImage = imagePathForHash(key, ext)
	relMeta = path.Join(logosDir, shard(key), key+".json")
	return ext, relImage, relMeta
}

func imagePathForHash(key, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	return path.Join(logosDir, shard(key), key+ext)
}

func decodeDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func sniffContentType(data []byte) string {
	n := len(data)
	if n > 512 {
		n = 512
	}
	return http.DetectContentType(data[:n])
}

func extFromContentType(contentType string) string {
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/x-icon", "image/vnd.microsoft.icon":
		return ".ico"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ".png"
	}
}
