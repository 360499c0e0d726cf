package generatem3u

import (
	"context"
	"os"
	"path/filepath"
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
	state := core.NewState(core.ProxyConfig{ID: "proxy1"}, sb)
	tempDir, err := sb.ResolvePath(filepath.Join("temp", "run-proxy1"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(tempDir, 0755))
	state.TempDir = tempDir
	return state
}

func seedChannels(t *testing.T, state *core.State, channels []record.Channel) {
	t.Helper()
	relPath := shared.RunArtifactPath(state.ProxyID, "numbered_channels.jsonl")
	size, err := core.WriteJSONL(state.Sandbox, relPath, channels)
	require.NoError(t, err)
	artifact := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageNumbered, "seed").
		WithFilePath(relPath).WithRecordCount(len(channels)).WithFileSize(size)
	state.AddArtifact("seed", artifact)
}

func TestStage_WritesM3UFile(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://example.com/bbc1", ChannelNumber: 1},
		{ID: "2", ChannelName: "ITV", StreamURL: "http://example.com/itv", ChannelNumber: 2},
	})

	stage := New()
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsProcessed)

	tempPath, ok := state.GetMetadata(MetadataKeyTempPath)
	require.True(t, ok)

	content, err := os.ReadFile(tempPath.(string))
	require.NoError(t, err)
	assert.Contains(t, string(content), "#EXTM3U")
	assert.Contains(t, string(content), "BBC One")
	assert.Contains(t, string(content), "http://example.com/bbc1")
	assert.Equal(t, 2, state.ChannelCount)
}

func TestStage_SkipsChannelsWithEmptyStreamURL(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://example.com/bbc1"},
		{ID: "2", ChannelName: "Bad Channel", StreamURL: ""},
	})

	stage := New()
	_, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, 1, state.ChannelCount)
	require.Len(t, state.Errors, 1)
}

func TestStage_NoChannels_SkipsGeneration(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, nil)

	stage := New()
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	_, ok := state.GetMetadata(MetadataKeyTempPath)
	assert.False(t, ok)
	assert.Equal(t, "No channels to write", result.Message)
}

func TestStage_NoChannelArtifact_Errors(t *testing.T) {
	state := newTestState(t)
	stage := New()
	_, err := stage.Execute(context.Background(), state)
	require.Error(t, err)
}
