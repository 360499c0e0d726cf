package loadchannels

import (
	"context"
	"testing"

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

func TestStage_Execute_NoSourcesError(t *testing.T) {
	t.Run("returns error when no sources configured", func(t *testing.T) {
		state := newTestState(t)
		state.Sources = []record.StreamSource{}

		stage := New(nil)
		_, err := stage.Execute(context.Background(), state)

		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrNoSources)
	})

	t.Run("returns error when sources is nil", func(t *testing.T) {
		state := newTestState(t)
		state.Sources = nil

		stage := New(nil)
		_, err := stage.Execute(context.Background(), state)

		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrNoSources)
	})
}

func TestStage_Interface(t *testing.T) {
	stage := New(nil)
	assert.Equal(t, StageID, stage.ID())
	assert.Equal(t, StageName, stage.Name())
}

func TestNewConstructor(t *testing.T) {
	constructor := NewConstructor()
	stage := constructor(&core.Dependencies{})
	assert.NotNil(t, stage)
	assert.Equal(t, StageID, stage.ID())
}

func TestStage_Execute_LoadsChannelsFromAllSources(t *testing.T) {
	state := newTestState(t)
	state.Sources = []record.StreamSource{
		{ID: "src1", Name: "Source One"},
		{ID: "src2", Name: "Source Two"},
	}

	src := core.StaticChannelSource{
		"src1": {{ChannelName: "BBC One", StreamURL: "http://x/a"}},
		"src2": {{ChannelName: "BBC Two", StreamURL: "http://x/b"}},
	}
	stage := New(src)

	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsProcessed)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, core.ArtifactTypeChannels, result.Artifacts[0].Type)
	assert.Equal(t, core.ProcessingStageSourceLoaded, result.Artifacts[0].Stage)
}
