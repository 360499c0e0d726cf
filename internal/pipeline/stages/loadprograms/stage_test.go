package loadprograms

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *core.State {
	t.Helper()
	sb, err := sandbox.NewSandbox(t.TempDir())
	require.NoError(t, err)
	return core.NewState(core.ProxyConfig{ID: "proxy1", Name: "Test Proxy"}, sb)
}

func TestStage_Interface(t *testing.T) {
	stage := New(nil)
	assert.Equal(t, StageID, stage.ID())
	assert.Equal(t, StageName, stage.Name())
}

func TestNewConstructor(t *testing.T) {
	constructor := NewConstructor()
	stage := constructor(&core.Dependencies{})
	require.NotNil(t, stage)
	assert.Equal(t, StageID, stage.ID())
}

func TestStage_Execute_NoEpgSources(t *testing.T) {
	state := newTestState(t)
	state.EpgSources = nil

	stage := New(core.StaticProgramSource{})
	result, err := stage.Execute(context.Background(), state)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.RecordsProcessed)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, core.ArtifactTypePrograms, result.Artifacts[0].Type)
}

func TestStage_Execute_LoadsFromAllEpgSources(t *testing.T) {
	now := time.Now()
	state := newTestState(t)
	state.EpgSources = []record.EpgSource{
		{ID: "src1", Name: "Source One"},
		{ID: "src2", Name: "Source Two"},
	}

	source := core.StaticProgramSource{
		"src1": {{ChannelID: "ch1", ProgrammeTitle: "Show A", Start: now, Stop: now.Add(time.Hour)}},
		"src2": {{ChannelID: "ch2", ProgrammeTitle: "Show B", Start: now, Stop: now.Add(time.Hour)}},
	}

	stage := New(source)
	result, err := stage.Execute(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsProcessed)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, core.ProcessingStageSourceLoaded, result.Artifacts[0].Stage)
}

func TestStage_Execute_StampsSourceIDAndName(t *testing.T) {
	now := time.Now()
	state := newTestState(t)
	state.EpgSources = []record.EpgSource{{ID: "src1", Name: "Source One"}}

	source := core.StaticProgramSource{
		"src1": {{ProgrammeTitle: "Show A", Start: now, Stop: now.Add(time.Hour)}},
	}

	stage := New(source)
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsProcessed)

	programs, err := core.ReadJSONL[record.EpgProgramme](state.Sandbox, result.Artifacts[0].FilePath)
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "src1", programs[0].SourceID)
	assert.Equal(t, "Source One", programs[0].SourceName)
}

func TestStage_Execute_SourceErrorAborts(t *testing.T) {
	state := newTestState(t)
	state.EpgSources = []record.EpgSource{{ID: "bad", Name: "Bad Source"}}

	stage := New(failingProgramSource{})
	_, err := stage.Execute(context.Background(), state)
	require.Error(t, err)
}

type failingProgramSource struct{}

func (failingProgramSource) LoadPrograms(ctx context.Context, source record.EpgSource, emit func(record.EpgProgramme) error) error {
	return assert.AnError
}
