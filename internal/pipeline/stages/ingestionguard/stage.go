// Package ingestionguard implements the pipeline's first stage: a gate
// that waits for any in-flight ingestion of the proxy's sources to finish
// before the rest of the pipeline reads them, so a run never sees a
// source's artifact mid-write.
package ingestionguard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "ingestion_guard"
	// StageName is the human-readable name for this stage.
	StageName = "Ingestion Guard"

	// DefaultPollInterval is the default interval between checks.
	DefaultPollInterval = 1 * time.Second
	// DefaultMaxWaitTime is the default maximum time to wait for ingestions.
	DefaultMaxWaitTime = 5 * time.Minute
)

// Stage waits for active ingestions to complete before proceeding.
type Stage struct {
	shared.BaseStage
	stateChecker core.StateChecker
	pollInterval time.Duration
	maxWaitTime  time.Duration
	enabled      bool
	logger       *slog.Logger
}

// New creates a new ingestion guard stage. stateChecker may be nil, in
// which case the guard is a no-op.
func New(stateChecker core.StateChecker) *Stage {
	return &Stage{
		BaseStage:    shared.NewBaseStage(StageID, StageName),
		stateChecker: stateChecker,
		pollInterval: DefaultPollInterval,
		maxWaitTime:  DefaultMaxWaitTime,
		enabled:      true,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.StateChecker)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// WithPollInterval sets the polling interval.
func (s *Stage) WithPollInterval(interval time.Duration) *Stage {
	if interval > 0 {
		s.pollInterval = interval
	}
	return s
}

// WithMaxWaitTime sets the maximum wait time.
func (s *Stage) WithMaxWaitTime(maxWait time.Duration) *Stage {
	if maxWait > 0 {
		s.maxWaitTime = maxWait
	}
	return s
}

// WithEnabled enables or disables the guard.
func (s *Stage) WithEnabled(enabled bool) *Stage {
	s.enabled = enabled
	return s
}

func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	if !s.enabled {
		result.Message = "Ingestion guard disabled, skipping"
		s.log(slog.LevelDebug, "ingestion guard disabled")
		return result, nil
	}

	if s.stateChecker == nil {
		result.Message = "No state checker configured, skipping"
		return result, nil
	}

	if !s.stateChecker.IsAnyIngesting() {
		result.Message = "No active ingestions, proceeding"
		s.log(slog.LevelDebug, "no active ingestions")
		return result, nil
	}

	s.log(slog.LevelInfo, "waiting for active ingestions to complete")

	waitCtx, cancel := context.WithTimeout(ctx, s.maxWaitTime)
	defer cancel()

	startTime := time.Now()
	attempts := 0

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, fmt.Errorf("timeout waiting for ingestions to complete after %v", time.Since(startTime))

		case <-ticker.C:
			attempts++
			if !s.stateChecker.IsAnyIngesting() {
				elapsed := time.Since(startTime)
				result.Message = fmt.Sprintf("Waited %v for ingestion to complete (%d checks)", elapsed.Round(time.Millisecond), attempts)
				s.log(slog.LevelInfo, "ingestions complete, proceeding", slog.Duration("wait_time", elapsed), slog.Int("attempts", attempts))
				return result, nil
			}
			if attempts%10 == 0 {
				s.log(slog.LevelDebug, "still waiting for ingestions", slog.Int("attempts", attempts))
			}
		}
	}
}

func (s *Stage) log(level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, attrs...)
	}
}

var _ core.Stage = (*Stage)(nil)
