package core

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/m3uproxy-core/internal/expression"
	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// StateChecker is an interface for checking ingestion state.
// Used by the ingestion guard stage to wait for active ingestions.
type StateChecker interface {
	IsAnyIngesting() bool
}

// Dependencies bundles all dependencies needed by pipeline stages.
// This reduces parameter count and makes dependency injection cleaner.
type Dependencies struct {
	Sandbox *sandbox.Sandbox
	Logger  *slog.Logger
	// StateChecker is used by the ingestion guard stage.
	// If nil, the ingestion guard is skipped.
	StateChecker StateChecker
	// BaseURL is the base URL for constructing fully qualified URLs (e.g., "http://localhost:8080").
	// Used by the logo caching stage to generate absolute URLs for cached logos.
	BaseURL string
	// ChannelSource supplies raw channels for each configured stream source.
	// If nil, load_channels produces an empty artifact per source.
	ChannelSource ChannelSource
	// ProgramSource supplies raw programmes for each configured EPG source.
	// If nil, load_programs produces an empty artifact per source.
	ProgramSource ProgramSource
	// LogoCache resolves remote logo URLs to stable serving URLs. If nil,
	// the logo_caching stage passes every record through unchanged.
	LogoCache LogoResolver
	// ParserCache is the process-wide expression parser cache shared by
	// the filtering and data-mapping stages so repeated runs over the
	// same rule set don't re-parse identical expressions. If nil, each
	// stage falls back to an unbounded cache scoped to its own run.
	ParserCache *expression.ParserCache
}

// LogoResolver is the logo-caching stage's view of the logo cache service
// (C7): given a channel's logo URL and descriptive hints, it returns the
// URL to serve in the record's place. Implemented by internal/logocache.
type LogoResolver interface {
	ResolveLogo(ctx context.Context, originalURL, channelName, channelGroup string) (servingURL string, err error)
}

// StageConstructor is a function that creates a stage given dependencies.
type StageConstructor func(deps *Dependencies) Stage

// Factory creates configured Orchestrator instances with all required stages.
type Factory struct {
	deps              *Dependencies
	stageConstructors []StageConstructor
}

// NewFactory creates a new pipeline Factory.
func NewFactory(deps *Dependencies) *Factory {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Factory{
		deps:              deps,
		stageConstructors: make([]StageConstructor, 0),
	}
}

// RegisterStage adds a stage constructor to the factory.
// Stages are executed in the order they are registered.
func (f *Factory) RegisterStage(constructor StageConstructor) {
	f.stageConstructors = append(f.stageConstructors, constructor)
}

// Create creates a new Orchestrator configured for the given proxy.
// The returned orchestrator includes all registered stages.
func (f *Factory) Create(proxy ProxyConfig) (*Orchestrator, error) {
	outputDir := proxy.OutputPath
	if outputDir == "" {
		outputDir = "output"
	}

	resolvedOutput, err := f.deps.Sandbox.ResolvePath(outputDir)
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(f.stageConstructors))
	for _, constructor := range f.stageConstructors {
		stage := constructor(f.deps)
		stages = append(stages, stage)
	}

	return NewOrchestrator(proxy, stages, f.deps.Sandbox, resolvedOutput, f.deps.Logger), nil
}

// OrchestratorFactory defines the interface for creating orchestrators.
type OrchestratorFactory interface {
	Create(proxy ProxyConfig) (*Orchestrator, error)
}

// Ensure Factory implements OrchestratorFactory.
var _ OrchestratorFactory = (*Factory)(nil)
