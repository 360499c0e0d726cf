package relayffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/m3uproxy-core/internal/buffer"
	"github.com/jmylchreest/m3uproxy-core/internal/ffmpeg"
)

// Supervisor owns one FFmpeg child process for a relay configuration,
// feeding its stdout into a shared cyclic buffer and classifying its
// stderr into a health signal that can trigger an error-fallback slate.
type Supervisor struct {
	cfg    SupervisorConfig
	buf    *buffer.Buffer
	prober Prober
	logger *slog.Logger

	fallback *FallbackGenerator
	streamer *Streamer
	monitor  *Monitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sessionID string
}

// NewSupervisor creates a Supervisor writing into buf. prober may be nil.
func NewSupervisor(cfg SupervisorConfig, buf *buffer.Buffer, prober Prober, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = 8 * 1024
	}
	generator := NewFallbackGenerator(cfg.Fallback, logger)
	return &Supervisor{
		cfg:       cfg,
		buf:       buf,
		prober:    prober,
		logger:    logger,
		fallback:  generator,
		streamer:  NewStreamer(generator, buf, logger),
		monitor:   NewMonitor(cfg.ErrorThreshold),
		sessionID: uuid.New().String(),
	}
}

// Start pre-probes the input when a Prober is configured, pre-generates
// the fallback slate, then launches the supervising goroutine. Start
// returns once the first spawn attempt has been kicked off; the process
// itself runs, retries, and recovers in the background until Stop/Drop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("relayffmpeg: supervisor %s already running", s.sessionID)
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if s.prober != nil {
		if _, err := s.prober.Probe(runCtx, s.cfg.Resolved.InputURL); err != nil {
			s.logger.Warn("relayffmpeg: pre-probe failed, continuing with resolved config", "error", err, "session", s.sessionID)
		}
	}

	if err := s.fallback.Initialize(runCtx); err != nil {
		s.logger.Warn("relayffmpeg: fallback slate unavailable", "error", err, "session", s.sessionID)
	}

	s.wg.Add(1)
	go s.superviseLoop(runCtx)
	return nil
}

func (s *Supervisor) superviseLoop(ctx context.Context) {
	defer s.wg.Done()

	ladder := s.cfg.Retry
	if ladder.MaxAttempts <= 0 {
		ladder = DefaultRetryLadder()
	}

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		attempts++
		start := time.Now()
		s.monitor.Reset()

		err := s.spawnOnce(ctx)
		runDuration := time.Since(start)

		if ctx.Err() != nil {
			return
		}

		if err == nil {
			// Clean exit (stream ended upstream); stop supervising.
			s.logger.Info("relayffmpeg: ffmpeg exited cleanly", "session", s.sessionID)
			return
		}

		s.logger.Warn("relayffmpeg: ffmpeg exited", "error", err, "session", s.sessionID, "attempt", attempts, "ran_for", runDuration)

		if runDuration >= ladder.MinRunTime {
			// Ran long enough to not count as a startup failure; reset
			// the ladder and try again immediately.
			attempts = 0
		}

		if attempts >= ladder.MaxAttempts {
			s.logger.Error("relayffmpeg: exhausted retry ladder, activating fallback", "session", s.sessionID, "attempts", attempts)
			s.streamer.Start(ctx)
			return
		}

		s.streamer.Start(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(ladder.Backoff):
		}
	}
}

// spawnOnce builds and runs a single FFmpeg invocation, forwarding stdout
// to the cyclic buffer and stderr to health classification, returning
// once the process exits (successfully or not).
func (s *Supervisor) spawnOnce(ctx context.Context) error {
	built := s.buildCommand()

	cmd := exec.CommandContext(ctx, built.Binary, built.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		s.readStderr(ctx, stderr)
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	// The main process produced at least one healthy line since the last
	// reset; stop the fallback slate so clients go back to live output.
	if s.monitor.State() != HealthError {
		s.streamer.Stop()
	}

	return waitErr
}

func (s *Supervisor) buildCommand() *ffmpeg.Command {
	r := s.cfg.Resolved
	builder := ffmpeg.NewCommandBuilder(r.FFmpegPath).
		HideBanner().
		Reconnect().
		InitHWDevice(r.HWAccelType, r.HWAccelDevice).
		HWAccel(r.HWAccelType).
		HWAccelDevice(r.HWAccelDevice).
		HWAccelOutputFormat(r.HWAccelOutputFormat).
		ApplyCustomInputOptions(r.CustomInputOptions).
		Input(r.InputURL)

	if r.VideoCodec != "" {
		builder = builder.VideoCodec(r.VideoCodec)
	}
	if r.AudioCodec != "" {
		builder = builder.AudioCodec(r.AudioCodec)
	}
	if r.VideoBitrate != "" {
		builder = builder.VideoBitrate(r.VideoBitrate)
	}
	if r.AudioBitrate != "" {
		builder = builder.AudioBitrate(r.AudioBitrate)
	}
	if r.VideoPreset != "" {
		builder = builder.VideoPreset(r.VideoPreset)
	}

	builder = builder.ApplyCustomOutputOptions(r.CustomOutputOptions).MpegtsArgs().Output("pipe:1")
	return builder.Build()
}

// readStdout forwards up to ReadChunkSize bytes per iteration into the
// cyclic buffer until the pipe closes.
func (s *Supervisor) readStdout(r io.Reader) {
	buf := make([]byte, s.cfg.ReadChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if writeErr := s.buf.WriteChunk(chunk); writeErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// readStderr classifies each line and activates fallback once the
// consecutive-error threshold is crossed.
func (s *Supervisor) readStderr(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		state := classifyLine(line)
		if state == HealthUnknown {
			continue
		}

		crossed := s.monitor.Observe(state)
		switch state {
		case HealthError:
			s.logger.Warn("relayffmpeg: ffmpeg error", "line", line, "session", s.sessionID)
		case HealthWarning:
			s.logger.Debug("relayffmpeg: ffmpeg warning", "line", line, "session", s.sessionID)
		}

		if crossed {
			s.logger.Warn("relayffmpeg: error threshold crossed, activating fallback", "session", s.sessionID)
			s.streamer.Start(ctx)
		} else if state == HealthHealthy && s.streamer.Active() {
			s.streamer.Stop()
		}
	}
}

// ServeContent attaches a new buffer client and returns a stream reader
// whose first bytes are whatever is already in the ring at attach time,
// followed by chunks arriving via subscription, in order.
func (s *Supervisor) ServeContent(userAgent, remoteAddr string) (*buffer.Reader, *buffer.Client, error) {
	client, err := s.buf.AddClient(userAgent, remoteAddr)
	if err != nil {
		return nil, nil, err
	}
	return buffer.NewReader(s.buf, client), client, nil
}

// Stop terminates the child process, stops the fallback streamer, and
// (for persistent configs) logs a Stop event.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.streamer.Stop()

	if s.cfg.Resolved.Persistent {
		s.logger.Info("relayffmpeg: Stop", "session", s.sessionID)
	}
}

// Drop is an alias for Stop, matching the lifecycle terminology used
// elsewhere for explicit teardown independent of garbage collection.
func (s *Supervisor) Drop() { s.Stop() }

// SessionID returns the supervisor's correlation ID for logging.
func (s *Supervisor) SessionID() string { return s.sessionID }
