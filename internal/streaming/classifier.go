package streaming

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// ClassifyParams carries the query-parameter hints the classifier
// considers alongside the URL itself.
type ClassifyParams struct {
	// Format, when "raw", asks the classifier to prefer
	// DecisionPassthroughRawTS when the extension heuristic doesn't rule
	// it out.
	Format string
	// Timeout bounds every HTTP call the classifier makes. Zero uses the
	// classifier's default.
	Timeout time.Duration
}

var progressiveExtensions = []string{".mp4", ".mkv", ".mov", ".avi", ".m4v"}

// Classifier implements the stream classifier (C8).
type Classifier struct {
	client           *http.Client
	timeout          time.Duration
	maxPlaylistBytes int64
	metrics          *Metrics
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	Client           *http.Client
	Timeout          time.Duration
	MaxPlaylistBytes int64
	Metrics          *Metrics
}

// NewClassifier creates a Classifier.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	if cfg.MaxPlaylistBytes <= 0 {
		cfg.MaxPlaylistBytes = 256 * 1024
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	return &Classifier{
		client:           cfg.Client,
		timeout:          cfg.Timeout,
		maxPlaylistBytes: cfg.MaxPlaylistBytes,
		metrics:          cfg.Metrics,
	}
}

// Metrics returns the classifier's counters.
func (c *Classifier) Metrics() *Metrics { return c.metrics }

// Classify implements the C8 algorithm: extension heuristic, then, for
// HLS-looking URLs, a bounded playlist fetch and light parse to decide
// between passthrough, collapse, and transparent relay.
func (c *Classifier) Classify(ctx context.Context, originalURL string, params ClassifyParams) Result {
	result := Result{Decision: DecisionUnknown}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	parsed, err := url.Parse(originalURL)
	if err != nil {
		result.note("invalid url: %v", err)
		c.metrics.record(result.Decision)
		return result
	}

	p := strings.ToLower(parsed.Path)
	if idx := strings.Index(p, "?"); idx >= 0 {
		p = p[:idx]
	}

	switch {
	case strings.HasSuffix(p, ".ts"):
		result.note("extension .ts indicates raw MPEG-TS")
		return c.confirmPassthrough(ctx, originalURL, timeout, &result)

	case isProgressive(p):
		result.note("progressive container extension, not collapsible")
		c.metrics.record(result.Decision)
		return result

	case params.Format == "raw":
		result.note("format=raw requested and extension does not rule it out")
		return c.confirmPassthrough(ctx, originalURL, timeout, &result)

	case !strings.HasSuffix(p, ".m3u8") && !strings.HasSuffix(p, ".m3u"):
		result.note("path does not indicate an HLS playlist")
		c.metrics.record(result.Decision)
		return result
	}

	playlistBytes, err := c.fetchPlaylist(ctx, originalURL, timeout)
	if err != nil {
		result.note("failed to fetch playlist: %v", err)
		c.metrics.record(result.Decision)
		c.metrics.RecordFallback("playlist_fetch_failed")
		return result
	}

	if !looksLikeM3U(playlistBytes) {
		result.note("missing #EXTM3U marker")
		c.metrics.record(result.Decision)
		c.metrics.RecordFallback("missing_extm3u")
		return result
	}

	parsedPlaylist, err := playlist.Unmarshal(playlistBytes)
	if err != nil {
		result.note("failed to parse playlist: %v", err)
		c.metrics.record(result.Decision)
		c.metrics.RecordFallback("playlist_parse_failed")
		return result
	}

	switch pl := parsedPlaylist.(type) {
	case *playlist.Multivariant:
		c.classifyMultivariant(ctx, originalURL, pl, &result, timeout)
	case *playlist.Media:
		c.classifyMedia(pl, &result)
	default:
		result.note("unrecognised playlist type")
	}

	c.metrics.record(result.Decision)
	return result
}

func (c *Classifier) confirmPassthrough(ctx context.Context, rawURL string, timeout time.Duration, result *Result) Result {
	probe, err := c.fetchPrefix(ctx, rawURL, timeout, 64*1024)
	if err != nil {
		result.Decision = DecisionUnknown
		result.note("could not probe candidate raw TS: %v", err)
		c.metrics.record(result.Decision)
		c.metrics.RecordFallback("ts_probe_unreachable")
		return *result
	}
	if err := probeBytes(probe); err != nil {
		result.Decision = DecisionUnknown
		result.note("TS probe found no PAT/PMT: %v", err)
		c.metrics.record(result.Decision)
		c.metrics.RecordFallback("ts_probe_failed")
		return *result
	}
	result.Decision = DecisionPassthroughRawTS
	result.note("confirmed PAT/PMT in probe window")
	c.metrics.record(result.Decision)
	return *result
}

func (c *Classifier) classifyMultivariant(ctx context.Context, baseURL string, mv *playlist.Multivariant, result *Result, timeout time.Duration) {
	result.VariantCount = len(mv.Variants)
	result.note("multivariant playlist with %d variant(s)", len(mv.Variants))

	if len(mv.Variants) == 0 {
		result.Decision = DecisionTransparentHLS
		result.note("no variants in multivariant playlist")
		return
	}

	variants := make([]*playlist.MultivariantVariant, len(mv.Variants))
	copy(variants, mv.Variants)
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})

	for _, variant := range variants {
		variantURL := absolutizeURL(baseURL, variant.URI)
		variantBytes, err := c.fetchPlaylist(ctx, variantURL, timeout)
		if err != nil {
			result.note("failed to fetch variant %s: %v", variant.URI, err)
			continue
		}
		media, ok := mustMedia(variantBytes)
		if !ok {
			result.note("variant %s is not a media playlist", variant.URI)
			continue
		}
		analysis := analyzeMedia(media)
		if !analysis.eligible() {
			result.note("variant ineligible (bandwidth=%d): %s", variant.Bandwidth, analysis.reason())
			continue
		}

		result.Decision = DecisionCollapsedSingleVariantTS
		result.SelectedMediaPlaylist = variantURL
		result.SelectedBandwidth = int64(variant.Bandwidth)
		if variant.Resolution != nil {
			result.SelectedResolution = fmt.Sprintf("%dx%d", variant.Resolution.Width, variant.Resolution.Height)
		}
		result.TargetDuration = float64(media.TargetDuration)
		result.IsEncrypted = analysis.encrypted
		result.UsesFMP4 = analysis.fmp4
		result.note("selected variant for collapsing (bandwidth=%d)", variant.Bandwidth)
		return
	}

	result.Decision = DecisionTransparentHLS
	result.note("no collapsible variant found among %d candidates", len(variants))
}

func (c *Classifier) classifyMedia(media *playlist.Media, result *Result) {
	result.VariantCount = 1
	result.TargetDuration = float64(media.TargetDuration)
	result.note("media playlist with %d segment(s)", len(media.Segments))

	analysis := analyzeMedia(media)
	result.IsEncrypted = analysis.encrypted
	result.UsesFMP4 = analysis.fmp4

	if !analysis.eligible() {
		result.Decision = DecisionTransparentHLS
		result.note(analysis.reason())
		return
	}

	result.Decision = DecisionCollapsedSingleVariantTS
	result.note("eligible single-variant TS media playlist")
}

type mediaAnalysis struct {
	encrypted    bool
	fmp4         bool
	allSegmentTS bool
	segmentCount int
}

func (a mediaAnalysis) eligible() bool {
	return !a.encrypted && !a.fmp4 && a.allSegmentTS && a.segmentCount > 0
}

func (a mediaAnalysis) reason() string {
	switch {
	case a.encrypted:
		return "encrypted media playlist (#EXT-X-KEY present)"
	case a.fmp4:
		return "fMP4 segments detected (#EXT-X-MAP present)"
	case !a.allSegmentTS:
		return "not all segments are .ts"
	case a.segmentCount == 0:
		return "no segments in playlist"
	default:
		return "eligible"
	}
}

func analyzeMedia(media *playlist.Media) mediaAnalysis {
	analysis := mediaAnalysis{allSegmentTS: true, segmentCount: len(media.Segments)}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Key != nil {
			analysis.encrypted = true
		}
		uri := seg.URI
		if idx := strings.Index(uri, "?"); idx >= 0 {
			uri = uri[:idx]
		}
		if !strings.HasSuffix(strings.ToLower(uri), ".ts") {
			analysis.allSegmentTS = false
		}
	}
	if media.Map != nil {
		analysis.fmp4 = true
	}
	return analysis
}

func mustMedia(data []byte) (*playlist.Media, bool) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, false
	}
	media, ok := pl.(*playlist.Media)
	return media, ok
}

func isProgressive(p string) bool {
	for _, ext := range progressiveExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

func looksLikeM3U(data []byte) bool {
	trimmed := strings.TrimLeft(string(data), "\xEF\xBB\xBF \t\r\n")
	return strings.HasPrefix(trimmed, "#EXTM3U")
}

func (c *Classifier) fetchPlaylist(ctx context.Context, playlistURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, c.maxPlaylistBytes))
}

func (c *Classifier) fetchPrefix(ctx context.Context, rawURL string, timeout time.Duration, maxBytes int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBytes))
}

// absolutizeURL resolves a (possibly relative) segment/variant URI against
// the playlist URL it was found in.
func absolutizeURL(playlistURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(playlistURL)
	if err != nil {
		if idx := strings.LastIndex(playlistURL, "/"); idx >= 0 {
			return playlistURL[:idx+1] + ref
		}
		return ref
	}
	relURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(relURL).String()
}
