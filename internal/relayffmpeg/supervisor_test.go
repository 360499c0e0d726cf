package relayffmpeg

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/m3uproxy-core/internal/buffer"
	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

func newTestBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	dir, err := os.MkdirTemp("", "relayffmpeg-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	sb, err := sandbox.NewSandbox(dir)
	require.NoError(t, err)

	cfg := buffer.DefaultConfig()
	cfg.CleanupInterval = time.Hour
	b := buffer.New(sb, cfg)
	t.Cleanup(b.Close)
	return b
}

func TestBuildCommandIncludesResolvedSettings(t *testing.T) {
	buf := newTestBuffer(t)
	cfg := DefaultSupervisorConfig()
	cfg.Resolved = ResolvedRelayConfig{
		InputURL:     "http://example.com/stream.ts",
		FFmpegPath:   "ffmpeg",
		VideoCodec:   "copy",
		AudioCodec:   "copy",
		HWAccelType:  "vaapi",
		VideoBitrate: "",
	}

	s := NewSupervisor(cfg, buf, nil, nil)
	built := s.buildCommand()

	assert.Equal(t, "ffmpeg", built.Binary)
	assert.Contains(t, built.Args, "-i")
	assert.Contains(t, built.Args, "http://example.com/stream.ts")
	assert.Contains(t, built.Args, "-hwaccel")
	assert.Contains(t, built.Args, "vaapi")
	assert.Contains(t, built.Args, "-c:v")
	assert.Contains(t, built.Args, "-f")
	assert.Contains(t, built.Args, "mpegts")
	assert.Equal(t, "pipe:1", built.Args[len(built.Args)-1])
}

func TestServeContentAttachesClientAndReadsRingContents(t *testing.T) {
	buf := newTestBuffer(t)
	cfg := DefaultSupervisorConfig()
	s := NewSupervisor(cfg, buf, nil, nil)

	require.NoError(t, buf.WriteChunk([]byte("already-in-ring")))

	reader, client, err := s.ServeContent("test-agent", "127.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, client)

	// Attach happens at current sequence, so this reader only sees chunks
	// written after ServeContent, matching the cyclic buffer's contract.
	require.NoError(t, buf.WriteChunk([]byte("after-attach")))

	out := make([]byte, 32)
	n, err := reader.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "after-attach", string(out[:n]))
}

func TestEscapeDrawtextEscapesSpecialCharacters(t *testing.T) {
	assert.Equal(t, `Stream\: Unavailable`, escapeDrawtext("Stream: Unavailable"))
	assert.Equal(t, `It\'s down`, escapeDrawtext("It's down"))
	assert.Equal(t, `back\\slash`, escapeDrawtext(`back\slash`))
}
