package logocache

import (
	"context"
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// tinyPNG is a 1x1 transparent PNG, used so decodeDimensions has something
// real to decode.
var tinyPNG = func() []byte {
	const b64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="
	data, _ := base64.StdEncoding.DecodeString(b64)
	return data
}()

type stubFetcher struct {
	data []byte
	err  error
	hits int
}

func (s *stubFetcher) Fetch(ctx context.Context, u string) (io.ReadCloser, error) {
	s.hits++
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func newTestCache(t *testing.T, fetcher Fetcher) (*Cache, *sandbox.Sandbox) {
	t.Helper()
	dir, err := os.MkdirTemp("", "logocache-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	sb, err := sandbox.NewSandbox(dir)
	require.NoError(t, err)

	c := New(sb, Config{BaseURL: "http://localhost:8080", Fetcher: fetcher})
	return c, sb
}

func TestCanonicalCacheKeyIgnoresSchemeAndQueryOrder(t *testing.T) {
	a := CanonicalCacheKey("http://cdn.example.com:80/logos/bbc.png?b=2&a=1")
	b := CanonicalCacheKey("https://cdn.example.com/logos/bbc.png?a=1&b=2")
	assert.Equal(t, a, b)

	c := CanonicalCacheKey("http://cdn.example.com/logos/other.png?a=1&b=2")
	assert.NotEqual(t, a, c)
}

func TestResolveLogoFetchesOnceAndCaches(t *testing.T) {
	fetcher := &stubFetcher{data: tinyPNG}
	cache, _ := newTestCache(t, fetcher)
	ctx := context.Background()

	url1, err := cache.ResolveLogo(ctx, "http://cdn.example.com/bbc.png", "BBC One", "News")
	require.NoError(t, err)
	assert.Contains(t, url1, "http://localhost:8080/logos/")

	url2, err := cache.ResolveLogo(ctx, "http://cdn.example.com/bbc.png", "BBC One", "News")
	require.NoError(t, err)
	assert.Equal(t, url1, url2)
	assert.Equal(t, 1, fetcher.hits, "second resolution should hit the index, not fetch again")
}

func TestResolveLogoPropagatesFetchError(t *testing.T) {
	fetcher := &stubFetcher{err: assert.AnError}
	cache, _ := newTestCache(t, fetcher)

	_, err := cache.ResolveLogo(context.Background(), "http://cdn.example.com/missing.png", "", "")
	assert.Error(t, err)
}

func TestSearchMatchesChannelName(t *testing.T) {
	fetcher := &stubFetcher{data: tinyPNG}
	cache, _ := newTestCache(t, fetcher)
	ctx := context.Background()

	_, err := cache.ResolveLogo(ctx, "http://cdn.example.com/bbc-one.png", "BBC One", "Entertainment")
	require.NoError(t, err)
	_, err = cache.ResolveLogo(ctx, "http://cdn.example.com/itv.png", "ITV", "Entertainment")
	require.NoError(t, err)

	results, err := cache.Search(ctx, "BBC One")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "channel_name", results[0].MatchedField)
}

func TestRemoveByCacheIDDeletesFiles(t *testing.T) {
	fetcher := &stubFetcher{data: tinyPNG}
	cache, sb := newTestCache(t, fetcher)
	ctx := context.Background()

	_, err := cache.ResolveLogo(ctx, "http://cdn.example.com/bbc.png", "BBC", "")
	require.NoError(t, err)

	key := CanonicalCacheKey("http://cdn.example.com/bbc.png")
	removed, err := cache.RemoveByCacheID(key)
	require.NoError(t, err)
	assert.True(t, removed)

	exists, _ := sb.Exists(imagePathForHash(key, ".png"))
	assert.False(t, exists)
}

func TestRunMaintenanceZeroLimitsRemovesNothing(t *testing.T) {
	fetcher := &stubFetcher{data: tinyPNG}
	cache, _ := newTestCache(t, fetcher)
	ctx := context.Background()

	for _, u := range []string{
		"http://cdn.example.com/a.png",
		"http://cdn.example.com/b.png",
		"http://cdn.example.com/c.png",
	} {
		_, err := cache.ResolveLogo(ctx, u, "", "")
		require.NoError(t, err)
	}

	result := cache.RunMaintenance(ctx, 0, 0)
	assert.Equal(t, 0, result.RemovedBySize)
	assert.Equal(t, 0, result.RemovedByAge)

	result = cache.RunMaintenance(ctx, -1, 0)
	_ = result
}
