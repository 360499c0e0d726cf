// Package numbering implements the channel numbering pipeline stage.
//
// The algorithm is a single pass in spirit but split into two loops for
// clarity:
//  1. First pass: channels with an existing, valid ChannelNumber claim
//     it; a channel whose number is already claimed probes upward
//     (number+1, +2, ...) until it finds a free slot, recording a
//     conflict-resolution event.
//  2. Second pass: every channel still without a number draws the lowest
//     available number from a pool starting at StartingChannelNumber.
//
// Exhausting the probe/pool search is a fatal error for the run.
package numbering

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "numbering"
	// StageName is the human-readable name for this stage.
	StageName = "Channel Numbering"

	artifactFile = "numbered_channels.jsonl"

	// maxProbeAttempts bounds the upward linear probe so a pathological
	// run (e.g. StartingChannelNumber near MaxInt) fails loudly instead
	// of looping forever.
	maxProbeAttempts = 1_000_000
)

// ConflictResolution records a channel number reassigned because its
// original number was already claimed by another channel.
type ConflictResolution struct {
	ChannelID      string
	ChannelName    string
	OriginalNumber int
	AssignedNumber int
}

// Stage assigns a unique tvg_chno to every surviving channel.
type Stage struct {
	shared.BaseStage
	startingNumber int
	logger         *slog.Logger
	conflicts      []ConflictResolution
}

// New creates a new numbering stage starting the sequential pool at
// startingNumber. A non-positive value defaults to 1.
func New(startingNumber int) *Stage {
	if startingNumber <= 0 {
		startingNumber = 1
	}
	return &Stage{
		BaseStage:      shared.NewBaseStage(StageID, StageName),
		startingNumber: startingNumber,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(1)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// GetConflicts returns the conflicts resolved during the last execution.
func (s *Stage) GetConflicts() []ConflictResolution {
	return s.conflicts
}

func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	s.conflicts = s.conflicts[:0]

	artifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	if !ok {
		return result, fmt.Errorf("numbering: no channel artifact available from an earlier stage")
	}

	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, artifact.FilePath)
	if err != nil {
		return result, fmt.Errorf("reading channel artifact: %w", err)
	}

	usedNumbers := make(map[int]bool, len(channels))
	var unnumbered []int // indices into channels

	// First pass: claim existing numbers, resolving conflicts by probing
	// upward for a free slot.
	for i := range channels {
		original := channels[i].ChannelNumber
		if original <= 0 {
			unnumbered = append(unnumbered, i)
			continue
		}

		n := original
		probes := 0
		for usedNumbers[n] {
			n++
			probes++
			if probes > maxProbeAttempts {
				return result, fmt.Errorf("%w: channel %s could not find a free number near %d",
					core.ErrNumberingPoolExhausted, channels[i].ID, original)
			}
		}
		usedNumbers[n] = true
		channels[i].ChannelNumber = n
		if n != original {
			s.conflicts = append(s.conflicts, ConflictResolution{
				ChannelID:      channels[i].ID,
				ChannelName:    channels[i].ChannelName,
				OriginalNumber: original,
				AssignedNumber: n,
			})
		}
	}

	// Build the available-number pool: starting at startingNumber, skip
	// anything already claimed, until every unnumbered channel has one.
	sequentialNeeded := len(unnumbered)
	pool := make([]int, 0, sequentialNeeded)
	candidate := s.startingNumber
	probes := 0
	for len(pool) < sequentialNeeded {
		if !usedNumbers[candidate] {
			pool = append(pool, candidate)
		}
		candidate++
		probes++
		if probes > maxProbeAttempts {
			return result, fmt.Errorf("%w: needed %d numbers starting at %d", core.ErrNumberingPoolExhausted, sequentialNeeded, s.startingNumber)
		}
	}

	// Second pass: assign pool numbers in ascending order to unnumbered
	// channels, in their existing (priority) order.
	for idx, chIdx := range unnumbered {
		n := pool[idx]
		usedNumbers[n] = true
		channels[chIdx].ChannelNumber = n
	}

	sort.SliceStable(channels, func(i, j int) bool { return channels[i].ChannelNumber < channels[j].ChannelNumber })

	relPath := shared.RunArtifactPath(state.ProxyID, artifactFile)
	size, err := core.WriteJSONL(state.Sandbox, relPath, channels)
	if err != nil {
		return result, fmt.Errorf("writing numbered artifact: %w", err)
	}

	out := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageNumbered, StageID).
		WithFilePath(relPath).
		WithRecordCount(len(channels)).
		WithFileSize(size).
		WithMetadata("conflicts_resolved", len(s.conflicts))
	result.Artifacts = append(result.Artifacts, out)
	result.RecordsProcessed = len(channels)
	result.RecordsModified = len(s.conflicts) + sequentialNeeded
	result.Message = fmt.Sprintf("Numbered %d channels (%d existing preserved/reassigned, %d newly assigned, %d conflicts resolved)",
		len(channels), len(channels)-sequentialNeeded, sequentialNeeded, len(s.conflicts))

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "channel numbering complete",
			slog.Int("total", len(channels)),
			slog.Int("sequential_assigned", sequentialNeeded),
			slog.Int("conflicts_resolved", len(s.conflicts)))
	}

	return result, nil
}

var _ core.Stage = (*Stage)(nil)
