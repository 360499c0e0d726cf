package ingestionguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStateChecker implements core.StateChecker for testing.
type mockStateChecker struct {
	mu          sync.RWMutex
	isIngesting bool
}

func (m *mockStateChecker) IsAnyIngesting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isIngesting
}

func (m *mockStateChecker) SetIngesting(ingesting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isIngesting = ingesting
}

func TestNew(t *testing.T) {
	checker := &mockStateChecker{}
	stage := New(checker)

	assert.NotNil(t, stage)
	assert.Equal(t, StageID, stage.ID())
	assert.Equal(t, StageName, stage.Name())
	assert.Equal(t, DefaultPollInterval, stage.pollInterval)
	assert.Equal(t, DefaultMaxWaitTime, stage.maxWaitTime)
	assert.True(t, stage.enabled)
}

func TestWithPollInterval(t *testing.T) {
	checker := &mockStateChecker{}
	stage := New(checker).WithPollInterval(500 * time.Millisecond)

	assert.Equal(t, 500*time.Millisecond, stage.pollInterval)
}

func TestWithMaxWaitTime(t *testing.T) {
	checker := &mockStateChecker{}
	stage := New(checker).WithMaxWaitTime(10 * time.Second)

	assert.Equal(t, 10*time.Second, stage.maxWaitTime)
}

func TestWithEnabled(t *testing.T) {
	checker := &mockStateChecker{}
	stage := New(checker).WithEnabled(false)

	assert.False(t, stage.enabled)
}

func TestExecute_Disabled(t *testing.T) {
	checker := &mockStateChecker{isIngesting: true}
	stage := New(checker).WithEnabled(false)

	state := core.NewState(core.ProxyConfig{}, nil)
	result, err := stage.Execute(context.Background(), state)

	require.NoError(t, err)
	assert.Contains(t, result.Message, "disabled")
}

func TestExecute_NoStateChecker(t *testing.T) {
	stage := New(nil)

	state := core.NewState(core.ProxyConfig{}, nil)
	result, err := stage.Execute(context.Background(), state)

	require.NoError(t, err)
	assert.Contains(t, result.Message, "No state checker")
}

func TestExecute_NoActiveIngestions(t *testing.T) {
	checker := &mockStateChecker{isIngesting: false}
	stage := New(checker)

	state := core.NewState(core.ProxyConfig{}, nil)
	result, err := stage.Execute(context.Background(), state)

	require.NoError(t, err)
	assert.Contains(t, result.Message, "No active ingestions")
}

func TestExecute_WaitsForIngestionCompletion(t *testing.T) {
	checker := &mockStateChecker{isIngesting: true}
	stage := New(checker).
		WithPollInterval(50 * time.Millisecond).
		WithMaxWaitTime(5 * time.Second)

	// Complete the ingestion after a short delay
	go func() {
		time.Sleep(150 * time.Millisecond)
		checker.SetIngesting(false)
	}()

	state := core.NewState(core.ProxyConfig{}, nil)
	start := time.Now()
	result, err := stage.Execute(context.Background(), state)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Contains(t, result.Message, "Waited")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestExecute_Timeout(t *testing.T) {
	checker := &mockStateChecker{isIngesting: true}
	stage := New(checker).
		WithPollInterval(50 * time.Millisecond).
		WithMaxWaitTime(200 * time.Millisecond)

	state := core.NewState(core.ProxyConfig{}, nil)
	_, err := stage.Execute(context.Background(), state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestExecute_ContextCancellation(t *testing.T) {
	checker := &mockStateChecker{isIngesting: true}
	stage := New(checker).
		WithPollInterval(50 * time.Millisecond).
		WithMaxWaitTime(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel after a short delay
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	state := core.NewState(core.ProxyConfig{}, nil)
	_, err := stage.Execute(ctx, state)

	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}

func TestExecute_MultipleIngestionsComplete(t *testing.T) {
	checker := &mockStateChecker{isIngesting: true}
	stage := New(checker).
		WithPollInterval(50 * time.Millisecond).
		WithMaxWaitTime(5 * time.Second)

	// Simulate gradual completion
	go func() {
		time.Sleep(150 * time.Millisecond)
		checker.SetIngesting(false)
	}()

	state := core.NewState(core.ProxyConfig{}, nil)
	result, err := stage.Execute(context.Background(), state)

	require.NoError(t, err)
	assert.Contains(t, result.Message, "Waited")
}

func TestStageID(t *testing.T) {
	assert.Equal(t, "ingestion_guard", StageID)
}

func TestStageName(t *testing.T) {
	assert.Equal(t, "Ingestion Guard", StageName)
}

func TestCleanup(t *testing.T) {
	checker := &mockStateChecker{}
	stage := New(checker)

	// Cleanup should be a no-op
	err := stage.Cleanup(context.Background())
	require.NoError(t, err)
}

func TestNewConstructor(t *testing.T) {
	checker := &mockStateChecker{}
	constructor := NewConstructor()

	deps := &core.Dependencies{StateChecker: checker}
	stage := constructor(deps)

	require.NotNil(t, stage)
	assert.Equal(t, StageID, stage.ID())
}
