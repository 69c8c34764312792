package packager

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
)

func fakeCommand(_ string, _ config.StreamConfig) ([]string, error) {
	return []string{"true"}, nil
}

func TestSupervisor_EnsureStartedTransitionsStoppedToStarted(t *testing.T) {
	s := NewSupervisor("")
	s.buildCommand = fakeCommand
	h := &Handle{}

	require.NoError(t, s.EnsureStarted("http://x", config.StreamConfig{Stream: "s1", Type: "GEN"}, h))
	assert.Equal(t, Started, h.State())
}

func TestSupervisor_ConcurrentEnsureStartedSpawnsOnce(t *testing.T) {
	var spawnCount int32
	s := NewSupervisor("")
	s.buildCommand = func(_ string, _ config.StreamConfig) ([]string, error) {
		atomic.AddInt32(&spawnCount, 1)
		return []string{"true"}, nil
	}
	h := &Handle{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.EnsureStarted("http://x", config.StreamConfig{Stream: "s1", Type: "GEN"}, h)
		}()
	}
	wg.Wait()

	assert.Equal(t, Started, h.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&spawnCount))
}

func TestHandle_StopResetsToStopped(t *testing.T) {
	s := NewSupervisor("")
	s.buildCommand = fakeCommand
	h := &Handle{}
	require.NoError(t, s.EnsureStarted("http://x", config.StreamConfig{Type: "GEN"}, h))

	h.Stop()
	assert.Equal(t, Stopped, h.State())
}

func TestSupervisor_CheckProbeTool(t *testing.T) {
	s := NewSupervisor("definitely-not-a-real-binary-xyz")
	assert.Error(t, s.CheckProbeTool())

	s2 := NewSupervisor("")
	assert.NoError(t, s2.CheckProbeTool())
}
