// Package generatexmltv implements the XMLTV generation pipeline stage:
// it reads the final numbered channel artifact and the logo_cached
// programme artifact and writes the proxy's published XMLTV guide.
package generatexmltv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
	"github.com/jmylchreest/m3uproxy-core/pkg/xmltv"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "generate_xmltv"
	// StageName is the human-readable name for this stage.
	StageName = "Generate XMLTV"
	// MetadataKeyTempPath is the state metadata key under which the
	// not-yet-published XMLTV file's absolute temp path is stored, for
	// the publish stage to pick up.
	MetadataKeyTempPath = "xmltv_temp_path"

	batchSize = 1000
)

// Stage generates the published XMLTV guide from the pipeline's final
// channel and programme artifacts.
type Stage struct {
	shared.BaseStage
	logger *slog.Logger
}

// New creates a new XMLTV generation stage.
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

	chanArtifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	if !ok {
		return result, fmt.Errorf("generate_xmltv: no channel artifact available from an earlier stage")
	}
	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, chanArtifact.FilePath)
	if err != nil {
		return result, fmt.Errorf("reading channel artifact: %w", err)
	}

	var programs []record.EpgProgramme
	if progArtifact, ok := state.LatestArtifactByType(core.ArtifactTypePrograms); ok {
		programs, err = core.ReadJSONL[record.EpgProgramme](state.Sandbox, progArtifact.FilePath)
		if err != nil {
			return result, fmt.Errorf("reading programme artifact: %w", err)
		}
	}

	s.log(ctx, slog.LevelInfo, "starting XMLTV generation",
		slog.Int("input_channels", len(channels)), slog.Int("input_programs", len(programs)))

	outputPath := filepath.Join(state.TempDir, fmt.Sprintf("%s.xml", state.ProxyID))
	file, err := os.Create(outputPath)
	if err != nil {
		s.log(ctx, slog.LevelError, "failed to create XMLTV file", slog.String("output_path", outputPath), slog.String("error", err.Error()))
		return result, fmt.Errorf("creating XMLTV file: %w", err)
	}
	defer file.Close()

	writer := xmltv.NewWriter(file)
	if err := writer.WriteHeader(); err != nil {
		return result, fmt.Errorf("writing XMLTV header: %w", err)
	}

	// Write each channel with a tvg_id exactly once. channelsWritten
	// gates which programmes make it into the final map per spec §6:
	// programmes with no matching channel are dropped silently here.
	channelsWritten := make(map[string]bool)
	for i := range channels {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		ch := &channels[i]
		if ch.TvgID == "" || channelsWritten[ch.TvgID] {
			continue
		}

		xmlCh := shared.ChannelToXMLTVChannel(ch)
		if err := writer.WriteChannel(xmlCh); err != nil {
			state.AddError(fmt.Errorf("writing channel %s: %w", ch.TvgID, err))
			continue
		}
		channelsWritten[ch.TvgID] = true
	}

	sort.Slice(programs, func(i, j int) bool {
		if programs[i].ChannelID != programs[j].ChannelID {
			return programs[i].ChannelID < programs[j].ChannelID
		}
		return programs[i].Start.Before(programs[j].Start)
	})

	totalPrograms := len(programs)
	programCount := 0
	for i := range programs {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		prog := &programs[i]
		if prog.ProgrammeTitle == "" {
			state.AddError(fmt.Errorf("programme skipped: empty title for channel %q", prog.ChannelID))
			continue
		}
		if !channelsWritten[prog.ChannelID] {
			continue
		}

		xmlProg := shared.ProgrammeToXMLTVProgramme(prog)
		if err := writer.WriteProgramme(xmlProg); err != nil {
			state.AddError(fmt.Errorf("writing programme %s: %w", prog.ProgrammeTitle, err))
			continue
		}
		programCount++

		if (i+1)%batchSize == 0 {
			s.log(ctx, slog.LevelDebug, "XMLTV generation batch progress",
				slog.Int("items_processed", i+1), slog.Int("total_items", totalPrograms))
		}
	}

	if err := writer.WriteFooter(); err != nil {
		s.log(ctx, slog.LevelError, "failed to write XMLTV footer", slog.String("output_path", outputPath), slog.String("error", err.Error()))
		return result, fmt.Errorf("writing XMLTV footer: %w", err)
	}

	state.ProgramCount = programCount
	state.SetMetadata(MetadataKeyTempPath, outputPath)

	fileInfo, _ := file.Stat()
	var fileSize int64
	if fileInfo != nil {
		fileSize = fileInfo.Size()
	}

	result.RecordsProcessed = programCount
	result.Message = fmt.Sprintf("Generated XMLTV with %d channels and %d programs", len(channelsWritten), programCount)

	s.log(ctx, slog.LevelInfo, "XMLTV generation complete",
		slog.Int("channel_count", len(channelsWritten)),
		slog.Int("program_count", programCount),
		slog.Int64("file_size_bytes", fileSize),
		slog.String("output_path", outputPath))

	out := core.NewArtifact(core.ArtifactTypeXMLTV, core.ProcessingStageGenerated, StageID).
		WithFilePath(outputPath).
		WithRecordCount(programCount).
		WithFileSize(fileSize).
		WithMetadata("channel_count", len(channelsWritten))
	result.Artifacts = append(result.Artifacts, out)

	return result, nil
}

func (s *Stage) log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(ctx, level, msg, attrs...)
	}
}

var _ core.Stage = (*Stage)(nil)
