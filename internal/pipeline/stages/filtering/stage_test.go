package filtering

import (
	"context"
	"testing"
	"time"

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
	relPath := shared.RunArtifactPath(state.ProxyID, "mapping_applied_channels.jsonl")
	size, err := core.WriteJSONL(state.Sandbox, relPath, channels)
	require.NoError(t, err)
	artifact := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageMappingApplied, "seed").
		WithFilePath(relPath).WithRecordCount(len(channels)).WithFileSize(size)
	state.AddArtifact("seed", artifact)
}

func seedPrograms(t *testing.T, state *core.State, programs []record.EpgProgramme) {
	t.Helper()
	relPath := shared.RunArtifactPath(state.ProxyID, "mapping_applied_programs.jsonl")
	size, err := core.WriteJSONL(state.Sandbox, relPath, programs)
	require.NoError(t, err)
	artifact := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageMappingApplied, "seed").
		WithFilePath(relPath).WithRecordCount(len(programs)).WithFileSize(size)
	state.AddArtifact("seed", artifact)
}

func readFilteredChannels(t *testing.T, state *core.State) []record.Channel {
	t.Helper()
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	require.True(t, ok)
	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, artifact.FilePath)
	require.NoError(t, err)
	return channels
}

func readFilteredPrograms(t *testing.T, state *core.State) []record.EpgProgramme {
	t.Helper()
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypePrograms)
	require.True(t, ok)
	programs, err := core.ReadJSONL[record.EpgProgramme](state.Sandbox, artifact.FilePath)
	require.NoError(t, err)
	return programs
}

func TestStage_NoRules_KeepsEverything(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://a"},
		{ID: "2", ChannelName: "ITV", StreamURL: "http://b"},
	})

	stage := New(nil)
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readFilteredChannels(t, state)
	assert.Len(t, channels, 2)
	assert.Equal(t, 2, result.RecordsProcessed)
}

func TestStage_RejectsNonMatchingChannel(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://a"},
		{ID: "2", ChannelName: "ITV", StreamURL: "http://b"},
	})
	state.FilterRules = []record.FilterRule{
		{ID: "r1", Domain: "stream_filter", Expr: `channel_name contains "BBC"`},
	}

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readFilteredChannels(t, state)
	require.Len(t, channels, 1)
	assert.Equal(t, "1", channels[0].ID)
}

func TestStage_InverseRule(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://a"},
		{ID: "2", ChannelName: "ITV", StreamURL: "http://b"},
	})
	state.FilterRules = []record.FilterRule{
		{ID: "r1", Domain: "stream_filter", Expr: `channel_name contains "BBC"`, Inverse: true},
	}

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readFilteredChannels(t, state)
	require.Len(t, channels, 1)
	assert.Equal(t, "2", channels[0].ID)
}

func TestStage_MultipleRulesAreAND(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", GroupTitle: "UK", StreamURL: "http://a"},
		{ID: "2", ChannelName: "BBC Two", GroupTitle: "US", StreamURL: "http://b"},
	})
	state.FilterRules = []record.FilterRule{
		{ID: "r1", Domain: "stream_filter", Expr: `channel_name contains "BBC"`},
		{ID: "r2", Domain: "stream_filter", Expr: `group_title equals "UK"`},
	}

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readFilteredChannels(t, state)
	require.Len(t, channels, 1)
	assert.Equal(t, "1", channels[0].ID)
}

func TestStage_DisabledRuleIgnored(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://a"},
	})
	state.FilterRules = []record.FilterRule{
		{ID: "r1", Domain: "stream_filter", Expr: `channel_name contains "ZZZ"`, Disabled: true},
	}

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readFilteredChannels(t, state)
	assert.Len(t, channels, 1)
}

func TestStage_DedupsChannelsByStreamURL(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://dup"},
		{ID: "2", ChannelName: "BBC One (alt)", StreamURL: "http://dup"},
		{ID: "3", ChannelName: "ITV", StreamURL: "http://other"},
	})

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	channels := readFilteredChannels(t, state)
	require.Len(t, channels, 2)
	assert.Equal(t, "1", channels[0].ID)
	assert.Equal(t, "3", channels[1].ID)
}

func TestStage_DedupsProgrammesByChannelTitleStart(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, nil)
	start := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)
	seedPrograms(t, state, []record.EpgProgramme{
		{ID: "p1", ChannelID: "bbc1", ProgrammeTitle: "News", Start: start},
		{ID: "p2", ChannelID: "bbc1", ProgrammeTitle: "News", Start: start},
		{ID: "p3", ChannelID: "bbc1", ProgrammeTitle: "News", Start: start.Add(time.Hour)},
	})

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	programs := readFilteredPrograms(t, state)
	require.Len(t, programs, 2)
	assert.Equal(t, "p1", programs[0].ID)
	assert.Equal(t, "p3", programs[1].ID)
}

func TestStage_NoProgrammeArtifact_WritesEmpty(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{{ID: "1", ChannelName: "A", StreamURL: "http://a"}})

	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	programs := readFilteredPrograms(t, state)
	assert.Empty(t, programs)
}

func TestStage_NoChannelArtifact_Errors(t *testing.T) {
	state := newTestState(t)
	stage := New(nil)
	_, err := stage.Execute(context.Background(), state)
	require.Error(t, err)
}

func TestProgramDedupKey(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &record.EpgProgramme{ChannelID: "c", ProgrammeTitle: "t", Start: start}
	key1 := programDedupKey(p)
	key2 := programDedupKey(&record.EpgProgramme{ChannelID: "c", ProgrammeTitle: "t", Start: start})
	assert.Equal(t, key1, key2)

	different := programDedupKey(&record.EpgProgramme{ChannelID: "c2", ProgrammeTitle: "t", Start: start})
	assert.NotEqual(t, key1, different)
}
