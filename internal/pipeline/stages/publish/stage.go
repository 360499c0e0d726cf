// Package publish implements the pipeline's final stage: atomically
// moving the generated M3U/XMLTV files out of the run's temp directory
// and into the proxy's output directory, so a reader of the output path
// never observes a partially written file.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/generatem3u"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/generatexmltv"
	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "publish"
	// StageName is the human-readable name for this stage.
	StageName = "Publish"
)

// Stage atomically publishes generated files from temp into OutputDir.
type Stage struct {
	shared.BaseStage
	sandbox *sandbox.Sandbox
	logger  *slog.Logger
}

// New creates a new publish stage.
func New(sb *sandbox.Sandbox) *Stage {
	return &Stage{BaseStage: shared.NewBaseStage(StageID, StageName), sandbox: sb}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.Sandbox)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

func (s *Stage) Execute(_ context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	filesPublished := 0

	if m3uPath, ok := state.GetMetadata(generatem3u.MetadataKeyTempPath); ok {
		destName := fmt.Sprintf("%s.m3u", state.ProxyID)
		destPath := filepath.Join(state.OutputDir, destName)
		if err := s.publish(m3uPath.(string), destPath); err != nil {
			return result, fmt.Errorf("publishing M3U: %w", err)
		}
		filesPublished++

		artifact := core.NewArtifact(core.ArtifactTypeM3U, core.ProcessingStageGenerated, StageID).WithFilePath(destPath)
		result.Artifacts = append(result.Artifacts, artifact)
		s.log(slog.LevelDebug, "published M3U", slog.String("dest", destPath))
	}

	if xmltvPath, ok := state.GetMetadata(generatexmltv.MetadataKeyTempPath); ok {
		destName := fmt.Sprintf("%s.xml", state.ProxyID)
		destPath := filepath.Join(state.OutputDir, destName)
		if err := s.publish(xmltvPath.(string), destPath); err != nil {
			return result, fmt.Errorf("publishing XMLTV: %w", err)
		}
		filesPublished++

		artifact := core.NewArtifact(core.ArtifactTypeXMLTV, core.ProcessingStageGenerated, StageID).WithFilePath(destPath)
		result.Artifacts = append(result.Artifacts, artifact)
		s.log(slog.LevelDebug, "published XMLTV", slog.String("dest", destPath))
	}

	result.RecordsProcessed = filesPublished
	result.Message = fmt.Sprintf("Published %d files to %s", filesPublished, state.OutputDir)

	return result, nil
}

// publish resolves destAbsPath to a sandbox-relative path and hands off
// to Sandbox.AtomicPublish, which renames (or, across filesystems,
// copies then renames) srcAbsPath into place.
func (s *Stage) publish(srcAbsPath, destAbsPath string) error {
	destRel, err := filepath.Rel(s.sandbox.BaseDir(), destAbsPath)
	if err != nil {
		return fmt.Errorf("computing sandbox-relative publish path: %w", err)
	}
	return s.sandbox.AtomicPublish(srcAbsPath, destRel)
}

func (s *Stage) log(level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, attrs...)
	}
}

var _ core.Stage = (*Stage)(nil)
