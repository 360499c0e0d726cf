package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/google/uuid"
)

// ErrSessionAborted is sent to the consumer when a Session gives up after
// exhausting its consecutive-error budget.
var ErrSessionAborted = errors.New("streaming: collapsing session aborted")

// SessionConfig configures a Session.
type SessionConfig struct {
	ChannelBuffer     int
	PlaylistTimeout   time.Duration
	SegmentTimeout    time.Duration
	MaxPlaylistBytes  int64
	MaxPlaylistErrors int
	MaxSegmentErrors  int
	MinPollInterval   time.Duration
}

// DefaultSessionConfig returns the spec's defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ChannelBuffer:     4,
		PlaylistTimeout:   5 * time.Second,
		SegmentTimeout:    10 * time.Second,
		MaxPlaylistBytes:  256 * 1024,
		MaxPlaylistErrors: 6,
		MaxSegmentErrors:  6,
		MinPollInterval:   800 * time.Millisecond,
	}
}

// Session drives an eligible single-variant media playlist to a continuous
// byte stream (C9). It is created eagerly but its poll loop only starts on
// the first call to Read/ReadContext.
type Session struct {
	cfg            SessionConfig
	client         *http.Client
	playlistURL    string
	sessionID      string
	targetDuration float64

	mu     sync.Mutex
	closed bool

	shutdown atomic.Bool
	started  atomic.Bool

	chunkCh chan []byte
	errCh   chan error
}

// NewSession creates a Session for the given media playlist URL. Call
// Read/ReadContext to lazily start the poll loop.
func NewSession(client *http.Client, playlistURL string, targetDuration float64, cfg SessionConfig) *Session {
	if client == nil {
		client = &http.Client{}
	}
	if targetDuration <= 0 {
		targetDuration = 6.0
	}
	return &Session{
		cfg:            cfg,
		client:         client,
		playlistURL:    playlistURL,
		sessionID:      uuid.New().String(),
		targetDuration: targetDuration,
		chunkCh:        make(chan []byte, cfg.ChannelBuffer),
		errCh:          make(chan error, 1),
	}
}

// SessionID returns the session's correlation ID for logging.
func (s *Session) SessionID() string { return s.sessionID }

// Read implements io.Reader, starting the poll loop on first use.
func (s *Session) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext reads with context support, starting the poll loop lazily.
func (s *Session) ReadContext(ctx context.Context, p []byte) (int, error) {
	if !s.started.Swap(true) {
		go s.runLoop(ctx)
	}

	select {
	case chunk, ok := <-s.chunkCh:
		if !ok {
			select {
			case err := <-s.errCh:
				return 0, err
			default:
				return 0, io.EOF
			}
		}
		return copy(p, chunk), nil
	case err := <-s.errCh:
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop signals cooperative shutdown; the poll loop exits at its next
// check, dropping the consumer.
func (s *Session) Stop() {
	s.shutdown.Store(true)
}

// IsClosed reports whether the poll loop has exited.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) runLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.closed = true
		close(s.chunkCh)
		s.mu.Unlock()
	}()

	seenSequences := make(map[uint64]struct{})
	seenURIs := make(map[string]struct{})
	var playlistErrors, segmentErrors int
	targetDuration := s.targetDuration

	for !s.shutdown.Load() {
		select {
		case <-ctx.Done():
			s.sendError(ctx.Err())
			return
		default:
		}

		fetchStart := time.Now()

		body, err := s.fetchPlaylist(ctx)
		if err != nil {
			playlistErrors++
			if playlistErrors >= s.cfg.MaxPlaylistErrors {
				s.sendError(fmt.Errorf("playlist fetch failed after %d attempts: %w", playlistErrors, err))
				return
			}
			s.sleep(ctx, 500*time.Millisecond)
			continue
		}

		media, err := unmarshalMedia(body)
		if err != nil {
			playlistErrors++
			if playlistErrors >= s.cfg.MaxPlaylistErrors {
				s.sendError(fmt.Errorf("playlist parse failed after %d attempts: %w", playlistErrors, err))
				return
			}
			s.sleep(ctx, 500*time.Millisecond)
			continue
		}
		playlistErrors = 0

		if media.TargetDuration > 0 {
			targetDuration = float64(media.TargetDuration)
		}

		emittedAny := false
		mediaSequence := uint64(media.MediaSequence)

		for i, seg := range media.Segments {
			if s.shutdown.Load() {
				break
			}
			if seg == nil {
				continue
			}

			dedupKey := mediaSequence + uint64(i)
			_, seenBySequence := seenSequences[dedupKey]
			_, seenByURI := seenURIs[seg.URI]
			if seenBySequence || seenByURI {
				continue
			}
			seenSequences[dedupKey] = struct{}{}
			seenURIs[seg.URI] = struct{}{}

			segData, err := s.fetchSegment(ctx, absolutizeURL(s.playlistURL, seg.URI))
			if err != nil {
				segmentErrors++
				if segmentErrors >= s.cfg.MaxSegmentErrors {
					s.sendError(fmt.Errorf("segment fetch failed after %d attempts: %w", segmentErrors, err))
					return
				}
				continue
			}
			segmentErrors = 0
			emittedAny = true

			select {
			case s.chunkCh <- segData:
			case <-ctx.Done():
				s.sendError(ctx.Err())
				return
			}
		}

		if s.shutdown.Load() {
			break
		}

		s.sleep(ctx, s.nextPollInterval(targetDuration, emittedAny, time.Since(fetchStart)))
	}

	if s.shutdown.Load() {
		s.sendError(ErrSessionAborted)
	}
}

// nextPollInterval implements the spec's poll-delay formula, including
// ±15% jitter when no new segments were found, to avoid thundering herds
// across many sessions sharing the same upstream playlist's cadence.
func (s *Session) nextPollInterval(targetDuration float64, emittedAny bool, elapsed time.Duration) time.Duration {
	ms := targetDuration * 1000 / 2
	ms = clamp(ms, 800, max(targetDuration*1000, 1500))

	if !emittedAny {
		ms *= 0.8
		jitter := 1 + (rand.Float64()*2-1)*0.15
		ms *= jitter
	}

	interval := time.Duration(ms) * time.Millisecond
	if interval < s.cfg.MinPollInterval {
		interval = s.cfg.MinPollInterval
	}
	if interval <= elapsed {
		return 0
	}
	return interval - elapsed
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (s *Session) sendError(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Session) fetchPlaylist(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PlaylistTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.playlistURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxPlaylistBytes))
}

func (s *Session) fetchSegment(ctx context.Context, segURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SegmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func unmarshalMedia(data []byte) (*playlist.Media, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("expected media playlist, got multivariant")
	}
	return media, nil
}
