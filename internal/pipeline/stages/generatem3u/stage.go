// Package generatem3u implements the M3U generation pipeline stage: it
// reads the final numbered channel artifact and writes the proxy's
// published M3U playlist.
package generatem3u

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
	"github.com/jmylchreest/m3uproxy-core/pkg/m3u"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "generate_m3u"
	// StageName is the human-readable name for this stage.
	StageName = "Generate M3U"
	// MetadataKeyTempPath is the state metadata key under which the
	// not-yet-published M3U file's absolute temp path is stored, for the
	// publish stage to pick up.
	MetadataKeyTempPath = "m3u_temp_path"
)

// Stage generates the published M3U playlist from the pipeline's final
// numbered channel artifact.
type Stage struct {
	shared.BaseStage
	logger *slog.Logger
}

// New creates a new M3U generation stage.
func New() *Stage {
	return &Stage{BaseStage: shared.NewBaseStage(StageID, StageName)}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New()
		if deps != nil && deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	artifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	if !ok {
		return result, fmt.Errorf("generate_m3u: no channel artifact available from an earlier stage")
	}

	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, artifact.FilePath)
	if err != nil {
		return result, fmt.Errorf("reading channel artifact: %w", err)
	}

	if len(channels) == 0 {
		s.log(ctx, slog.LevelInfo, "no channels to write, skipping M3U generation")
		result.Message = "No channels to write"
		return result, nil
	}

	outputPath := filepath.Join(state.TempDir, fmt.Sprintf("%s.m3u", state.ProxyID))
	file, err := os.Create(outputPath)
	if err != nil {
		s.log(ctx, slog.LevelError, "failed to create M3U file", slog.String("output_path", outputPath), slog.String("error", err.Error()))
		return result, fmt.Errorf("creating M3U file: %w", err)
	}
	defer file.Close()

	writer := m3u.NewWriter(file)
	if err := writer.WriteHeader(); err != nil {
		return result, fmt.Errorf("writing M3U header: %w", err)
	}

	channelCount := 0
	var skippedCount int

	for i := range channels {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		ch := &channels[i]
		if ch.StreamURL == "" {
			state.AddError(fmt.Errorf("channel %q skipped: empty stream URL", ch.ChannelName))
			skippedCount++
			continue
		}

		entry := shared.ChannelToM3UEntry(ch, ch.ChannelNumber)
		if err := writer.WriteEntry(entry); err != nil {
			state.AddError(fmt.Errorf("writing channel %s: %w", ch.ChannelName, err))
			continue
		}
		channelCount++
	}

	state.ChannelCount = channelCount
	state.SetMetadata(MetadataKeyTempPath, outputPath)

	fileInfo, _ := file.Stat()
	var fileSize int64
	if fileInfo != nil {
		fileSize = fileInfo.Size()
	}

	result.RecordsProcessed = channelCount
	result.Message = fmt.Sprintf("Generated M3U with %d channels", channelCount)

	s.log(ctx, slog.LevelInfo, "M3U generation complete",
		slog.Int("channel_count", channelCount),
		slog.Int("skipped_count", skippedCount),
		slog.Int64("file_size_bytes", fileSize),
		slog.String("output_path", outputPath))

	out := core.NewArtifact(core.ArtifactTypeM3U, core.ProcessingStageGenerated, StageID).
		WithFilePath(outputPath).
		WithRecordCount(channelCount).
		WithFileSize(fileSize)
	result.Artifacts = append(result.Artifacts, out)

	return result, nil
}

func (s *Stage) log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(ctx, level, msg, attrs...)
	}
}

var _ core.Stage = (*Stage)(nil)
