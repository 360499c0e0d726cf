// Package loadprograms mirrors loadchannels for EPG sources: it
// materializes every configured EPG source's programmes into the run's
// "source_loaded" programme artifact.
package loadprograms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "load_programs"
	// StageName is the human-readable name for this stage.
	StageName = "Load EPG Programs"

	artifactFile = "source_loaded_programs.jsonl"
)

// Stage loads programmes from every configured EPG source.
type Stage struct {
	shared.BaseStage
	source core.ProgramSource
	logger *slog.Logger
}

// New creates a new load-programs stage. source may be nil, in which case
// every configured EPG source yields zero programmes.
func New(source core.ProgramSource) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName),
		source:    source,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.ProgramSource)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute loads programmes from all EPG sources. Unlike load_channels, an
// empty or absent EPG source list is not an error: a proxy with no EPG
// sources still produces a (empty) programmes artifact so later stages
// see a uniform handoff.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	relPath := shared.RunArtifactPath(state.ProxyID, artifactFile)
	spillDir := shared.RunSpillDir(state.ProxyID, "load_programs")
	// EPG sources can carry hundreds of thousands of programmes; always
	// spill rather than risk holding them all in memory.
	acc := core.NewAccumulator[record.EpgProgramme](state.Sandbox, spillDir, core.StrategyFileSpilled, 0)

	for _, src := range state.EpgSources {
		if s.source == nil {
			continue
		}

		sourceCount := 0
		err := s.source.LoadPrograms(ctx, src, func(p record.EpgProgramme) error {
			if p.SourceID == "" {
				p.SourceID = src.ID
			}
			if p.SourceName == "" {
				p.SourceName = src.Name
			}
			sourceCount++
			return acc.Add(p)
		})
		if err != nil {
			s.log(ctx, slog.LevelError, "failed to load programmes from source",
				slog.String("source_id", src.ID), slog.String("source_name", src.Name),
				slog.String("error", err.Error()))
			return result, fmt.Errorf("loading programmes from source %s (%s): %w", src.ID, src.Name, err)
		}

		s.log(ctx, slog.LevelInfo, "loaded programmes from source",
			slog.String("source_id", src.ID), slog.String("source_name", src.Name),
			slog.Int("programme_count", sourceCount))
	}

	count, fileSize, err := core.DrainToJSONL(state.Sandbox, relPath, acc)
	if err != nil {
		return result, fmt.Errorf("writing source_loaded programme artifact: %w", err)
	}

	artifact := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageSourceLoaded, StageID).
		WithFilePath(relPath).
		WithRecordCount(count).
		WithFileSize(fileSize)
	result.Artifacts = append(result.Artifacts, artifact)
	result.RecordsProcessed = count
	result.Message = fmt.Sprintf("Loaded %d programmes from %d EPG sources", count, len(state.EpgSources))

	s.log(ctx, slog.LevelInfo, "EPG load complete", slog.Int("total_programmes", count))

	return result, nil
}

func (s *Stage) log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(ctx, level, msg, attrs...)
	}
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
