// Package pipeline provides a composable pipeline architecture for proxy
// generation. Each stage implements the Stage interface and operates on
// shared State.
//
// The pipeline is organized into several sub-packages:
//   - core: Orchestrator, interfaces, and base types
//   - shared: Utilities shared between stages
//   - stages/*: Individual stage implementations
package pipeline

import (
	"log/slog"

	"github.com/jmylchreest/m3uproxy-core/internal/expression"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/datamapping"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/filtering"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/generatem3u"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/generatexmltv"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/ingestionguard"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/loadchannels"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/loadprograms"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/logocaching"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/numbering"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/stages/publish"
	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// Re-export core types for convenience.
type (
	// Stage is a single step in the pipeline.
	Stage = core.Stage

	// State holds shared data between stages.
	State = core.State

	// Result is the outcome of pipeline execution.
	Result = core.Result

	// StageResult is the outcome of a single stage.
	StageResult = core.StageResult

	// Orchestrator executes stages in sequence.
	Orchestrator = core.Orchestrator

	// OrchestratorFactory creates orchestrators.
	OrchestratorFactory = core.OrchestratorFactory

	// Factory creates orchestrators.
	Factory = core.Factory

	// Dependencies bundles stage dependencies.
	Dependencies = core.Dependencies

	// Config holds pipeline configuration.
	Config = core.Config

	// Builder provides fluent factory construction.
	Builder = core.Builder

	// Artifact represents stage output.
	Artifact = core.Artifact

	// ArtifactType identifies artifact content.
	ArtifactType = core.ArtifactType

	// ProcessingStage indicates the pipeline point an artifact was produced at.
	ProcessingStage = core.ProcessingStage

	// ProgressReporter allows progress tracking.
	ProgressReporter = core.ProgressReporter

	// StageConstructor creates stages from dependencies.
	StageConstructor = core.StageConstructor

	// ChannelSource supplies raw channels for a stream source.
	ChannelSource = core.ChannelSource

	// ProgramSource supplies raw programmes for an EPG source.
	ProgramSource = core.ProgramSource

	// LogoResolver resolves a remote logo URL to a stable serving URL.
	LogoResolver = core.LogoResolver

	// StateChecker reports whether an ingestion is currently in flight.
	StateChecker = core.StateChecker
)

// Re-export artifact types.
const (
	ArtifactTypeChannels = core.ArtifactTypeChannels
	ArtifactTypePrograms = core.ArtifactTypePrograms
	ArtifactTypeM3U      = core.ArtifactTypeM3U
	ArtifactTypeXMLTV    = core.ArtifactTypeXMLTV
)

// Re-export processing stages.
const (
	ProcessingStageSourceLoaded   = core.ProcessingStageSourceLoaded
	ProcessingStageMappingApplied = core.ProcessingStageMappingApplied
	ProcessingStageFiltered       = core.ProcessingStageFiltered
	ProcessingStageLogoCached     = core.ProcessingStageLogoCached
	ProcessingStageNumbered       = core.ProcessingStageNumbered
	ProcessingStageGenerated      = core.ProcessingStageGenerated
)

// Re-export errors.
var (
	ErrNoSources              = core.ErrNoSources
	ErrNoChannels             = core.ErrNoChannels
	ErrPipelineAlreadyRunning = core.ErrPipelineAlreadyRunning
	ErrStageNotFound          = core.ErrStageNotFound
	ErrInvalidConfiguration   = core.ErrInvalidConfiguration
	ErrNumberingPoolExhausted = core.ErrNumberingPoolExhausted
)

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return core.NewBuilder()
}

// NewState creates a new pipeline state.
var NewState = core.NewState

// NewFactory creates a new pipeline factory with the given dependencies.
func NewFactory(deps *Dependencies) *Factory {
	return core.NewFactory(deps)
}

// NewDefaultFactory creates a factory with the standard stage
// configuration, in pipeline order:
// ingestion_guard -> load_channels -> load_programs -> data_mapping ->
// filtering -> numbering -> logo_caching -> generate_m3u ->
// generate_xmltv -> publish.
//
// channelSource/programSource supply raw records for the load stages; a
// nil source yields an empty artifact for every configured source rather
// than failing the run. logoResolver may be nil, in which case logo
// caching passes every URL through unchanged. stateChecker may be nil,
// in which case the ingestion guard is a no-op.
func NewDefaultFactory(
	sb *sandbox.Sandbox,
	logger *slog.Logger,
	channelSource ChannelSource,
	programSource ProgramSource,
	logoResolver LogoResolver,
	stateChecker StateChecker,
	baseURL string,
) *Factory {
	deps := &Dependencies{
		Sandbox:       sb,
		Logger:        logger,
		BaseURL:       baseURL,
		ChannelSource: channelSource,
		ProgramSource: programSource,
		LogoCache:     logoResolver,
		StateChecker:  stateChecker,
		ParserCache:   expression.NewParserCache(0),
	}

	factory := NewFactory(deps)

	factory.RegisterStage(ingestionguard.NewConstructor())
	factory.RegisterStage(loadchannels.NewConstructor())
	factory.RegisterStage(loadprograms.NewConstructor())
	factory.RegisterStage(datamapping.NewConstructor())
	factory.RegisterStage(filtering.NewConstructor())
	factory.RegisterStage(numbering.NewConstructor())
	factory.RegisterStage(logocaching.NewConstructor())
	factory.RegisterStage(generatem3u.NewConstructor())
	factory.RegisterStage(generatexmltv.NewConstructor())
	factory.RegisterStage(publish.NewConstructor())

	return factory
}

// Stage IDs for reference.
const (
	StageIDIngestionGuard = ingestionguard.StageID
	StageIDLoadChannels   = loadchannels.StageID
	StageIDLoadPrograms   = loadprograms.StageID
	StageIDDataMapping    = datamapping.StageID
	StageIDFiltering      = filtering.StageID
	StageIDNumbering      = numbering.StageID
	StageIDLogoCaching    = logocaching.StageID
	StageIDGenerateM3U    = generatem3u.StageID
	StageIDGenerateXMLTV  = generatexmltv.StageID
	StageIDPublish        = publish.StageID
)
