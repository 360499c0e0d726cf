package generatexmltv

import (
	"context"
	"os"
	"path/filepath"
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
	state := core.NewState(core.ProxyConfig{ID: "proxy1", Name: "Test Proxy"}, sb)
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

func seedPrograms(t *testing.T, state *core.State, programs []record.EpgProgramme) {
	t.Helper()
	relPath := shared.RunArtifactPath(state.ProxyID, "filtered_programs.jsonl")
	size, err := core.WriteJSONL(state.Sandbox, relPath, programs)
	require.NoError(t, err)
	artifact := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageFiltered, "seed").
		WithFilePath(relPath).WithRecordCount(len(programs)).WithFileSize(size)
	state.AddArtifact("seed-programs", artifact)
}

func TestStage_Execute_ProducesValidXMLTV(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{TvgID: "channel1", TvgName: "Channel One", ChannelName: "Channel One HD"},
		{TvgID: "channel2", TvgName: "Channel Two", ChannelName: "Channel Two HD"},
	})

	now := time.Now()
	seedPrograms(t, state, []record.EpgProgramme{
		{ChannelID: "channel1", ProgrammeTitle: "Morning Show", Start: now, Stop: now.Add(time.Hour)},
		{ChannelID: "channel1", ProgrammeTitle: "News at Noon", ProgrammeDescription: "Daily news update", Start: now.Add(time.Hour), Stop: now.Add(2 * time.Hour)},
		{ChannelID: "channel2", ProgrammeTitle: "Sports Hour", Start: now, Stop: now.Add(time.Hour)},
	})

	stage := New()
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 3, result.RecordsProcessed)
	assert.Contains(t, result.Message, "2 channels")
	assert.Contains(t, result.Message, "3 programs")

	xmltvPath, ok := state.GetMetadata(MetadataKeyTempPath)
	require.True(t, ok, "XMLTV path should be in metadata")
	pathStr, ok := xmltvPath.(string)
	require.True(t, ok, "XMLTV path should be a string")

	content, err := os.ReadFile(pathStr)
	require.NoError(t, err)
	contentStr := string(content)

	assert.Contains(t, contentStr, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, contentStr, `<tv generator-info-name=`)
	assert.Contains(t, contentStr, `</tv>`)

	assert.Contains(t, contentStr, `<channel id="channel1">`)
	assert.Contains(t, contentStr, `<display-name>Channel One</display-name>`)
	assert.Contains(t, contentStr, `<channel id="channel2">`)
	assert.Contains(t, contentStr, `</channel>`)

	assert.Contains(t, contentStr, `<programme start=`)
	assert.Contains(t, contentStr, `channel="channel1"`)
	assert.Contains(t, contentStr, `Morning Show`)
	assert.Contains(t, contentStr, `News at Noon`)
	assert.Contains(t, contentStr, `Daily news update`)
	assert.Contains(t, contentStr, `</programme>`)
}

func TestStage_Execute_HandlesNoChannelsGracefully(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, nil)
	seedPrograms(t, state, nil)

	stage := New()
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 0, result.RecordsProcessed)
}

func TestStage_Execute_CreatesArtifactWithFileInfo(t *testing.T) {
	state := newTestState(t)
	seedChannels(t, state, []record.Channel{
		{TvgID: "test", ChannelName: "Test Channel"},
	})
	seedPrograms(t, state, []record.EpgProgramme{
		{ChannelID: "test", ProgrammeTitle: "Test Show", Start: time.Now(), Stop: time.Now().Add(time.Hour)},
	})

	stage := New()
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, result.Artifacts, 1)
	artifact := result.Artifacts[0]
	assert.Equal(t, core.ArtifactTypeXMLTV, artifact.Type)
	assert.Equal(t, 1, artifact.RecordCount)
	assert.Greater(t, artifact.FileSize, int64(0))
}

func TestStage_Execute_SkipsMissingFields(t *testing.T) {
	t.Run("skips programmes with missing title", func(t *testing.T) {
		state := newTestState(t)
		seedChannels(t, state, []record.Channel{{TvgID: "channel1", ChannelName: "Channel One"}})

		now := time.Now()
		seedPrograms(t, state, []record.EpgProgramme{
			{ChannelID: "channel1", ProgrammeTitle: "Valid Show", Start: now, Stop: now.Add(time.Hour)},
			{ChannelID: "channel1", ProgrammeTitle: "", Start: now.Add(time.Hour), Stop: now.Add(2 * time.Hour)},
			{ChannelID: "channel1", ProgrammeTitle: "Another Valid Show", Start: now.Add(2 * time.Hour), Stop: now.Add(3 * time.Hour)},
		})

		stage := New()
		result, err := stage.Execute(context.Background(), state)
		require.NoError(t, err)

		assert.Equal(t, 2, result.RecordsProcessed)
		require.Len(t, state.Errors, 1)
	})

	t.Run("skips programmes whose channel has no tvg_id", func(t *testing.T) {
		state := newTestState(t)
		seedChannels(t, state, []record.Channel{{ChannelName: "No TvgID Channel"}})
		seedPrograms(t, state, []record.EpgProgramme{
			{ChannelID: "", ProgrammeTitle: "Orphan Show", Start: time.Now(), Stop: time.Now().Add(time.Hour)},
		})

		stage := New()
		result, err := stage.Execute(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, 0, result.RecordsProcessed)
	})
}

func TestStage_Execute_NoChannelArtifact_Errors(t *testing.T) {
	state := newTestState(t)
	stage := New()
	_, err := stage.Execute(context.Background(), state)
	require.Error(t, err)
}
