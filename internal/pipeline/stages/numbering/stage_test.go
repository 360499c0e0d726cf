package numbering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

func newTestState(t *testing.T) *core.State {
	t.Helper()
	sb, err := sandbox.NewSandbox(t.TempDir())
	require.NoError(t, err)
	state := core.NewState(core.ProxyConfig{ID: "proxy1", Name: "Test Proxy"}, sb)
	return state
}

func seedChannels(t *testing.T, state *core.State, channels []record.Channel) {
	t.Helper()
	relPath := shared.RunArtifactPath(state.ProxyID, "source_loaded_channels.jsonl")
	size, err := core.WriteJSONL(state.Sandbox, relPath, channels)
	require.NoError(t, err)
	artifact := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageSourceLoaded, "seed").
		WithFilePath(relPath).
		WithRecordCount(len(channels)).
		WithFileSize(size)
	state.AddArtifact("seed", artifact)
}

func readNumberedChannels(t *testing.T, state *core.State) []record.Channel {
	t.Helper()
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	require.True(t, ok)
	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, artifact.FilePath)
	require.NoError(t, err)
	return channels
}

func TestStage_AllUnnumbered(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "a", ChannelName: "Channel A"},
		{ID: "b", ChannelName: "Channel B"},
		{ID: "c", ChannelName: "Channel C"},
	})

	stage := New(100)
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readNumberedChannels(t, state)
	require.Len(t, channels, 3)
	assert.Equal(t, 100, channels[0].ChannelNumber)
	assert.Equal(t, 101, channels[1].ChannelNumber)
	assert.Equal(t, 102, channels[2].ChannelNumber)
	assert.Equal(t, 3, result.RecordsProcessed)
	assert.Empty(t, stage.GetConflicts())
}

func TestStage_PreservesExistingNumbers(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "a", ChannelName: "Channel A", ChannelNumber: 5},
		{ID: "b", ChannelName: "Channel B", ChannelNumber: 10},
		{ID: "c", ChannelName: "Channel C"},
	})

	stage := New(1)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readNumberedChannels(t, state)
	byID := make(map[string]int, len(channels))
	for _, c := range channels {
		byID[c.ID] = c.ChannelNumber
	}
	assert.Equal(t, 5, byID["a"])
	assert.Equal(t, 10, byID["b"])
	assert.Equal(t, 1, byID["c"])
	assert.Empty(t, stage.GetConflicts())
}

func TestStage_ConflictResolvesByProbingUpward(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "a", ChannelName: "Channel A", ChannelNumber: 5},
		{ID: "b", ChannelName: "Channel B", ChannelNumber: 5},
		{ID: "c", ChannelName: "Channel C", ChannelNumber: 6},
	})

	stage := New(1)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readNumberedChannels(t, state)
	byID := make(map[string]int, len(channels))
	for _, c := range channels {
		byID[c.ID] = c.ChannelNumber
	}
	assert.Equal(t, 5, byID["a"])
	assert.Equal(t, 7, byID["b"]) // 5 and 6 taken, probes to 7
	assert.Equal(t, 6, byID["c"])

	conflicts := stage.GetConflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "b", conflicts[0].ChannelID)
	assert.Equal(t, 5, conflicts[0].OriginalNumber)
	assert.Equal(t, 7, conflicts[0].AssignedNumber)
}

func TestStage_PoolSkipsClaimedNumbers(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "a", ChannelName: "Channel A", ChannelNumber: 1},
		{ID: "b", ChannelName: "Channel B"},
		{ID: "c", ChannelName: "Channel C"},
	})

	stage := New(1)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readNumberedChannels(t, state)
	byID := make(map[string]int, len(channels))
	for _, c := range channels {
		byID[c.ID] = c.ChannelNumber
	}
	assert.Equal(t, 1, byID["a"])
	assert.ElementsMatch(t, []int{2, 3}, []int{byID["b"], byID["c"]})
}

func TestStage_OutputSortedByChannelNumber(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "a", ChannelName: "Channel A", ChannelNumber: 50},
		{ID: "b", ChannelName: "Channel B", ChannelNumber: 10},
		{ID: "c", ChannelName: "Channel C", ChannelNumber: 30},
	})

	stage := New(1)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readNumberedChannels(t, state)
	require.Len(t, channels, 3)
	assert.Equal(t, 10, channels[0].ChannelNumber)
	assert.Equal(t, 30, channels[1].ChannelNumber)
	assert.Equal(t, 50, channels[2].ChannelNumber)
}

func TestStage_NoChannelArtifact(t *testing.T) {
	state := newTestState(t)
	stage := New(1)
	_, err := stage.Execute(context.Background(), state)
	require.Error(t, err)
}

func TestStage_DefaultsStartingNumberToOne(t *testing.T) {
	stage := New(0)
	assert.Equal(t, 1, stage.startingNumber)
	stage = New(-5)
	assert.Equal(t, 1, stage.startingNumber)
}
