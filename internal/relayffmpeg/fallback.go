package relayffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/m3uproxy-core/internal/buffer"
)

// FallbackConfig configures the pre-generated error slate.
type FallbackConfig struct {
	Width           int
	Height          int
	SegmentDuration float64
	Message         string
	BackgroundColor string
	TextColor       string
	FontSize        int
	VideoBitrate    int
	AudioEnabled    bool
	FFmpegPath      string
}

// DefaultFallbackConfig returns sensible defaults.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Width:           1280,
		Height:          720,
		SegmentDuration: 2.0,
		Message:         "Stream Unavailable",
		BackgroundColor: "black",
		TextColor:       "white",
		FontSize:        48,
		VideoBitrate:    1000,
		AudioEnabled:    true,
		FFmpegPath:      "ffmpeg",
	}
}

// ErrFallbackGenerationFailed is returned when the slate couldn't be rendered.
var ErrFallbackGenerationFailed = errors.New("relayffmpeg: fallback generation failed")

// ErrFallbackNotReady is returned when the slate hasn't been generated yet.
var ErrFallbackNotReady = errors.New("relayffmpeg: fallback slate not ready")

// FallbackGenerator renders and caches a single pre-generated MPEG-TS error
// card, used to keep attached clients fed with bytes while the upstream
// relay is unhealthy.
type FallbackGenerator struct {
	cfg    FallbackConfig
	logger *slog.Logger

	mu          sync.RWMutex
	initialized bool
	tsData      []byte
	generatedAt time.Time
}

// NewFallbackGenerator creates a FallbackGenerator.
func NewFallbackGenerator(cfg FallbackConfig, logger *slog.Logger) *FallbackGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackGenerator{cfg: cfg, logger: logger}
}

// Initialize renders the slate once; subsequent calls are no-ops.
func (g *FallbackGenerator) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized {
		return nil
	}

	data, err := g.render(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFallbackGenerationFailed, err)
	}
	g.tsData = data
	g.initialized = true
	g.generatedAt = time.Now()
	g.logger.Info("relayffmpeg: fallback slate generated", "bytes", len(data))
	return nil
}

func (g *FallbackGenerator) render(ctx context.Context) ([]byte, error) {
	duration := fmt.Sprintf("%.1f", g.cfg.SegmentDuration)
	videoFilter := fmt.Sprintf(
		"color=c=%s:s=%dx%d:d=%s,drawtext=text='%s':fontcolor=%s:fontsize=%d:x=(w-text_w)/2:y=(h-text_h)/2",
		g.cfg.BackgroundColor, g.cfg.Width, g.cfg.Height, duration,
		escapeDrawtext(g.cfg.Message), g.cfg.TextColor, g.cfg.FontSize,
	)

	args := []string{"-hide_banner", "-loglevel", "error", "-f", "lavfi", "-i", videoFilter}
	if g.cfg.AudioEnabled {
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=48000:cl=stereo:d=%s", duration))
	}
	args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-tune", "stillimage",
		"-b:v", fmt.Sprintf("%dk", g.cfg.VideoBitrate), "-pix_fmt", "yuv420p")
	if g.cfg.AudioEnabled {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	}
	args = append(args, "-f", "mpegts", "-muxdelay", "0", "-muxpreload", "0", "pipe:1")

	cmd := exec.CommandContext(ctx, g.cfg.FFmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %v, stderr: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Segment returns a copy of the pre-generated slate.
func (g *FallbackGenerator) Segment() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.initialized {
		return nil, ErrFallbackNotReady
	}
	data := make([]byte, len(g.tsData))
	copy(data, g.tsData)
	return data, nil
}

// IsReady reports whether the slate has been generated.
func (g *FallbackGenerator) IsReady() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.initialized
}

func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "'", "\\'", ":", "\\:")
	return replacer.Replace(text)
}

// Streamer repeatedly writes the fallback slate into a buffer on a ticker
// matching the slate's segment duration, keeping attached clients fed
// while the main FFmpeg process is unhealthy.
type Streamer struct {
	generator *FallbackGenerator
	target    *buffer.Buffer
	logger    *slog.Logger

	mu     sync.Mutex
	active bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStreamer creates a Streamer writing generator's slate into target.
func NewStreamer(generator *FallbackGenerator, target *buffer.Buffer, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{generator: generator, target: target, logger: logger}
}

// Start begins writing the slate on a ticker. A no-op if already active.
func (s *Streamer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts the ticker and blocks until the writer goroutine exits.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Active reports whether the streamer is currently writing.
func (s *Streamer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Streamer) run(ctx context.Context) {
	defer close(s.doneCh)

	interval := time.Duration(s.generator.cfg.SegmentDuration * float64(time.Second))
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		segment, err := s.generator.Segment()
		if err != nil {
			s.logger.Warn("relayffmpeg: fallback segment unavailable", "error", err)
		} else if err := s.target.WriteChunk(segment); err != nil {
			s.logger.Warn("relayffmpeg: fallback write failed", "error", err)
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
