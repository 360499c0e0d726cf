// Package loadchannels implements the first stage of the channel
// pipeline: materializing every configured stream source's channels into
// the run's "source_loaded" artifact.
//
// Ingestion itself (fetching and parsing an M3U/Xtream document) is an
// external concern; this stage only needs something that can stream
// already-parsed record.Channel rows out of a source, per
// core.ChannelSource.
package loadchannels

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
	StageID = "load_channels"
	// StageName is the human-readable name for this stage.
	StageName = "Load Channels"

	artifactFile = "source_loaded_channels.jsonl"
)

// Stage loads channels from every configured stream source and writes
// them as the pipeline's first channel artifact.
type Stage struct {
	shared.BaseStage
	source core.ChannelSource
	logger *slog.Logger
}

// New creates a new load-channels stage. source may be nil, in which case
// every configured source yields zero channels.
func New(source core.ChannelSource) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName),
		source:    source,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.ChannelSource)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute loads channels from all sources and writes the source_loaded
// channel artifact.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	if len(state.Sources) == 0 {
		return result, core.ErrNoSources
	}

	s.log(ctx, slog.LevelInfo, "starting channel load", slog.Int("source_count", len(state.Sources)))

	relPath := shared.RunArtifactPath(state.ProxyID, artifactFile)
	spillDir := shared.RunSpillDir(state.ProxyID, "load_channels")
	acc := core.NewAccumulator[record.Channel](state.Sandbox, spillDir, core.StrategyHybrid, 0)

	for _, src := range state.Sources {
		if s.source == nil {
			continue
		}

		sourceCount := 0
		err := s.source.LoadChannels(ctx, src, func(ch record.Channel) error {
			if ch.SourceID == "" {
				ch.SourceID = src.ID
			}
			if ch.SourceName == "" {
				ch.SourceName = src.Name
			}
			if ch.SourceType == "" {
				ch.SourceType = src.Kind
			}
			sourceCount++
			return acc.Add(ch)
		})
		if err != nil {
			s.log(ctx, slog.LevelError, "failed to load channels from source",
				slog.String("source_id", src.ID), slog.String("source_name", src.Name),
				slog.String("error", err.Error()))
			return result, fmt.Errorf("loading channels from source %s (%s): %w", src.ID, src.Name, err)
		}

		s.log(ctx, slog.LevelInfo, "loaded channels from source",
			slog.String("source_id", src.ID), slog.String("source_name", src.Name),
			slog.Int("channel_count", sourceCount))
	}

	count, fileSize, err := core.DrainToJSONL(state.Sandbox, relPath, acc)
	if err != nil {
		return result, fmt.Errorf("writing source_loaded artifact: %w", err)
	}

	artifact := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageSourceLoaded, StageID).
		WithFilePath(relPath).
		WithRecordCount(count).
		WithFileSize(fileSize)
	result.Artifacts = append(result.Artifacts, artifact)
	result.RecordsProcessed = count
	result.Message = fmt.Sprintf("Loaded %d channels from %d sources", count, len(state.Sources))

	s.log(ctx, slog.LevelInfo, "channel load complete", slog.Int("total_channels", count))

	return result, nil
}

func (s *Stage) log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(ctx, level, msg, attrs...)
	}
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
