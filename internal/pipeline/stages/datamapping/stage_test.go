package datamapping

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
	return core.NewState(core.ProxyConfig{ID: "proxy1"}, sb)
}

func seedChannels(t *testing.T, state *core.State, channels []record.Channel) {
	t.Helper()
	relPath := shared.RunArtifactPath(state.ProxyID, "source_loaded_channels.jsonl")
	size, err := core.WriteJSONL(state.Sandbox, relPath, channels)
	require.NoError(t, err)
	artifact := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageSourceLoaded, "seed").
		WithFilePath(relPath).WithRecordCount(len(channels)).WithFileSize(size)
	state.AddArtifact("seed", artifact)
}

func readMappedChannels(t *testing.T, state *core.State) []record.Channel {
	t.Helper()
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	require.True(t, ok)
	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, artifact.FilePath)
	require.NoError(t, err)
	return channels
}

func TestStage_NoRules_PassesThrough(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{{ID: "1", ChannelName: "BBC One"}})

	stage := New(nil)
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readMappedChannels(t, state)
	require.Len(t, channels, 1)
	assert.Equal(t, "BBC One", channels[0].ChannelName)
	assert.Equal(t, 0, result.RecordsModified)
}

func TestStage_SetAction(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One HD"},
		{ID: "2", ChannelName: "ITV"},
	})
	state.MappingRules = []record.DataMappingRule{
		{ID: "m1", Domain: "stream_data_mapping", Expr: `channel_name contains "BBC" SET group_title = "UK Channels"`},
	}

	stage := New(nil)
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readMappedChannels(t, state)
	byID := make(map[string]record.Channel, len(channels))
	for _, c := range channels {
		byID[c.ID] = c
	}
	assert.Equal(t, "UK Channels", byID["1"].GroupTitle)
	assert.Empty(t, byID["2"].GroupTitle)
	assert.Equal(t, 1, result.RecordsModified)
}

func TestStage_RulesApplyInPriorityOrder(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{{ID: "1", ChannelName: "BBC One"}})
	state.MappingRules = []record.DataMappingRule{
		{ID: "m2", Domain: "stream_data_mapping", Priority: 2, Expr: `channel_name contains "Modified" SET group_title = "Was Modified"`},
		{ID: "m1", Domain: "stream_data_mapping", Priority: 1, Expr: `channel_name contains "BBC" SET channel_name = "Modified BBC"`},
	}

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readMappedChannels(t, state)
	require.Len(t, channels, 1)
	assert.Equal(t, "Modified BBC", channels[0].ChannelName)
	assert.Equal(t, "Was Modified", channels[0].GroupTitle)
}

func TestStage_DisabledRuleSkipped(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{{ID: "1", ChannelName: "BBC One"}})
	state.MappingRules = []record.DataMappingRule{
		{ID: "m1", Domain: "stream_data_mapping", Disabled: true, Expr: `channel_name contains "BBC" SET group_title = "UK"`},
	}

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readMappedChannels(t, state)
	assert.Empty(t, channels[0].GroupTitle)
}

func TestStage_NoProgrammeArtifact_WritesEmpty(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{{ID: "1", ChannelName: "A"}})

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	artifact, ok := state.LatestArtifactByType(core.ArtifactTypePrograms)
	require.True(t, ok)
	assert.Equal(t, 0, artifact.RecordCount)
}

func TestStage_NoChannelArtifact_Errors(t *testing.T) {
	state := newTestState(t)
	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.Error(t, err)
}
