package core

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ArtifactType identifies what kind of record a pipeline artifact file holds.
type ArtifactType string

const (
	// ArtifactTypeChannels represents a JSON-lines file of record.Channel entries.
	ArtifactTypeChannels ArtifactType = "channels"

	// ArtifactTypePrograms represents a JSON-lines file of record.EpgProgramme entries.
	ArtifactTypePrograms ArtifactType = "programs"

	// ArtifactTypeM3U represents a generated M3U playlist file.
	ArtifactTypeM3U ArtifactType = "m3u"

	// ArtifactTypeXMLTV represents a generated XMLTV guide file.
	ArtifactTypeXMLTV ArtifactType = "xmltv"
)

// ProcessingStage names the point in the pipeline an artifact represents,
// in the order the pipeline runs them: a source's raw records are loaded,
// data-mapping rules run, filter rules run, logos are cached, channels are
// numbered, and finally output is generated.
type ProcessingStage string

const (
	ProcessingStageSourceLoaded   ProcessingStage = "source_loaded"
	ProcessingStageMappingApplied ProcessingStage = "mapping_applied"
	ProcessingStageFiltered       ProcessingStage = "filtered"
	ProcessingStageLogoCached     ProcessingStage = "logo_cached"
	ProcessingStageNumbered       ProcessingStage = "numbered"
	ProcessingStageGenerated      ProcessingStage = "generated"
)

// stageOrder gives ProcessingStage a total order, which Before compares by.
var stageOrder = map[ProcessingStage]int{
	ProcessingStageSourceLoaded:   0,
	ProcessingStageMappingApplied: 1,
	ProcessingStageFiltered:       2,
	ProcessingStageLogoCached:     3,
	ProcessingStageNumbered:       4,
	ProcessingStageGenerated:      5,
}

// Before reports whether s precedes other in pipeline order.
func (s ProcessingStage) Before(other ProcessingStage) bool {
	return stageOrder[s] < stageOrder[other]
}

// Artifact represents an output from a pipeline stage: a JSON-lines (or,
// for generated output, plain-text) file living inside the run's sandbox,
// plus the bookkeeping a later stage or the orchestrator needs without
// reopening the file.
type Artifact struct {
	// ID is a unique, time-sortable identifier for this artifact.
	ID string

	// Type identifies the content type.
	Type ArtifactType

	// Stage indicates the processing stage that produced this artifact.
	Stage ProcessingStage

	// FilePath is the sandbox-relative path to the artifact file.
	FilePath string

	// CreatedBy is the stage ID that created this artifact.
	CreatedBy string

	// RecordCount is the number of records in the artifact.
	RecordCount int

	// FileSize is the size in bytes.
	FileSize int64

	// CreatedAt is when the artifact was created.
	CreatedAt time.Time

	// Metadata contains additional artifact-specific data.
	Metadata map[string]any
}

// NewArtifact creates a new artifact with the given type and stage.
func NewArtifact(artifactType ArtifactType, stage ProcessingStage, createdBy string) Artifact {
	return Artifact{
		ID:        ulid.Make().String(),
		Type:      artifactType,
		Stage:     stage,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// WithFilePath sets the file path for the artifact.
func (a Artifact) WithFilePath(path string) Artifact {
	a.FilePath = path
	return a
}

// WithRecordCount sets the record count for the artifact.
func (a Artifact) WithRecordCount(count int) Artifact {
	a.RecordCount = count
	return a
}

// WithFileSize sets the file size for the artifact.
func (a Artifact) WithFileSize(size int64) Artifact {
	a.FileSize = size
	return a
}

// WithMetadata adds metadata to the artifact.
func (a Artifact) WithMetadata(key string, value any) Artifact {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = value
	return a
}
