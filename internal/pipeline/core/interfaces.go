// Package core provides the pipeline orchestration framework.
package core

import (
	"context"
	"time"

	"github.com/jmylchreest/m3uproxy-core/internal/record"
	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// Stage represents a single step in the proxy generation pipeline.
// Each stage reads artifacts left by previous stages from the run's
// sandbox and produces new artifact files of its own.
type Stage interface {
	// ID returns a unique identifier for the stage (e.g., "load_channels").
	ID() string

	// Name returns a human-readable name for the stage (e.g., "Load Channels").
	Name() string

	// Execute performs the stage's work.
	Execute(ctx context.Context, state *State) (*StageResult, error)

	// Cleanup performs any necessary cleanup after execution.
	// Called regardless of success or failure.
	Cleanup(ctx context.Context) error
}

// ProgressReporter allows stages to report execution progress.
type ProgressReporter interface {
	// ReportProgress reports stage progress (0.0 to 1.0).
	ReportProgress(ctx context.Context, stageID string, progress float64, message string)

	// ReportItemProgress reports progress on individual items.
	ReportItemProgress(ctx context.Context, stageID string, current, total int, item string)
}

// ProxyConfig describes the proxy configuration a pipeline run generates
// output for. It is the minimal projection of persisted proxy state the
// orchestrator needs; stages read everything else from state.Artifacts.
type ProxyConfig struct {
	ID         string
	Name       string
	OutputPath string
}

// State holds all data shared between pipeline stages for a single run.
// Records themselves never live in State: each stage writes its output as
// a JSON-lines artifact file inside Sandbox and records an Artifact
// describing it; the next stage looks that artifact up and reads the file.
type State struct {
	// ProxyID is the ID of the proxy being generated.
	ProxyID string

	// Proxy is the proxy configuration.
	Proxy ProxyConfig

	// Sources are the stream sources to include, ordered by priority.
	Sources []record.StreamSource

	// EpgSources are the EPG sources to include, ordered by priority.
	EpgSources []record.EpgSource

	// FilterRules are the filter rules applicable to this run, in
	// whatever order they were loaded (the filtering stage sorts them).
	FilterRules []record.FilterRule

	// MappingRules are the data-mapping rules applicable to this run.
	MappingRules []record.DataMappingRule

	// ProgressReporter allows stages to report their progress.
	ProgressReporter ProgressReporter

	// Sandbox confines every artifact, spill, and temp file this run
	// creates to a single base directory.
	Sandbox *sandbox.Sandbox

	// TempDir is the sandbox-resolved (absolute) directory for this run's
	// intermediate artifact and spill files.
	TempDir string

	// OutputDir is the sandbox-resolved (absolute) directory for the
	// generated M3U/XMLTV output.
	OutputDir string

	// ChannelCount tracks the number of channels in output.
	ChannelCount int

	// ProgramCount tracks the number of EPG programs in output.
	ProgramCount int

	// StartTime records when pipeline execution began.
	StartTime time.Time

	// Errors collects non-fatal errors during execution.
	Errors []error

	// Artifacts holds output artifacts from each stage, keyed by the
	// producing stage's ID.
	Artifacts map[string][]Artifact

	// Metadata stores arbitrary stage-specific data.
	Metadata map[string]any
}

// NewState creates a new pipeline state for the given proxy.
func NewState(proxy ProxyConfig, sb *sandbox.Sandbox) *State {
	return &State{
		ProxyID:   proxy.ID,
		Proxy:     proxy,
		Sandbox:   sb,
		StartTime: time.Now(),
		Errors:    make([]error, 0),
		Artifacts: make(map[string][]Artifact),
		Metadata:  make(map[string]any),
	}
}

// AddError adds a non-fatal error to the state.
func (s *State) AddError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err)
	}
}

// HasErrors returns true if any non-fatal errors were recorded.
func (s *State) HasErrors() bool {
	return len(s.Errors) > 0
}

// Duration returns the elapsed time since pipeline start.
func (s *State) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// SetMetadata stores a value in the metadata map.
func (s *State) SetMetadata(key string, value any) {
	s.Metadata[key] = value
}

// GetMetadata retrieves a value from the metadata map.
func (s *State) GetMetadata(key string) (any, bool) {
	v, ok := s.Metadata[key]
	return v, ok
}

// AddArtifact adds an artifact produced by a stage.
func (s *State) AddArtifact(stageID string, artifact Artifact) {
	s.Artifacts[stageID] = append(s.Artifacts[stageID], artifact)
}

// GetArtifacts returns all artifacts produced by a stage.
func (s *State) GetArtifacts(stageID string) []Artifact {
	return s.Artifacts[stageID]
}

// GetArtifactsByType returns all artifacts of a specific type, across every
// stage that has produced one so far.
func (s *State) GetArtifactsByType(artifactType ArtifactType) []Artifact {
	var result []Artifact
	for _, artifacts := range s.Artifacts {
		for _, a := range artifacts {
			if a.Type == artifactType {
				result = append(result, a)
			}
		}
	}
	return result
}

// LatestArtifactByType returns the most recently created artifact of the
// given type across all stages so far. This is how a stage finds its input
// without needing to know which earlier stage ID produced it.
func (s *State) LatestArtifactByType(artifactType ArtifactType) (Artifact, bool) {
	var latest Artifact
	found := false
	for _, a := range s.GetArtifactsByType(artifactType) {
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	return latest, found
}

// StageResult contains the outcome of a stage execution.
type StageResult struct {
	// Artifacts produced by this stage.
	Artifacts []Artifact

	// RecordsProcessed is the count of items processed.
	RecordsProcessed int

	// RecordsModified is the count of items changed.
	RecordsModified int

	// Duration is the execution time.
	Duration time.Duration

	// Message is an optional summary message.
	Message string
}

// Result represents the outcome of pipeline execution.
type Result struct {
	// Success indicates if the pipeline completed without fatal errors.
	Success bool

	// ChannelCount is the number of channels in the generated output.
	ChannelCount int

	// ProgramCount is the number of EPG programs in the generated output.
	ProgramCount int

	// Duration is the total execution time.
	Duration time.Duration

	// StageResults contains results from each stage.
	StageResults map[string]*StageResult

	// Errors contains any errors that occurred.
	Errors []error

	// M3UPath is the path to the generated M3U file.
	M3UPath string

	// XMLTVPath is the path to the generated XMLTV file.
	XMLTVPath string
}
