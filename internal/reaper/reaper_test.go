package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/internal/registry"
)

func testCfg(id string) config.StreamConfig {
	cfg := config.StreamConfig{Stream: id, Type: "GEN"}
	cfg.ApplyDefaults()
	return cfg
}

func TestReaper_SweepStopsOnlyIdleStartedStreams(t *testing.T) {
	reg := registry.NewRegistry([]config.StreamConfig{testCfg("idle"), testCfg("fresh"), testCfg("stopped")})

	idle, _ := reg.Lookup("idle")
	idle.MarkStarted()
	idle.TouchAccess()

	fresh, _ := reg.Lookup("fresh")
	fresh.MarkStarted()
	fresh.TouchAccess()

	r := New(reg)
	r.threshold = 0 // treat any touched stream as immediately idle for this test

	r.sweep()

	assert.Equal(t, registry.StreamStopped, idle.Status())
	assert.Equal(t, registry.StreamStopped, fresh.Status())

	stopped, _ := reg.Lookup("stopped")
	assert.Equal(t, registry.StreamStopped, stopped.Status())
}

func TestReaper_SweepLeavesRecentlyAccessedStreamsAlone(t *testing.T) {
	reg := registry.NewRegistry([]config.StreamConfig{testCfg("s1")})
	s, _ := reg.Lookup("s1")
	s.MarkStarted()
	s.TouchAccess()

	r := New(reg)
	r.threshold = time.Hour

	r.sweep()

	assert.Equal(t, registry.StreamStarted, s.Status())
}

func TestReaper_RunStopsOnContextCancel(t *testing.T) {
	reg := registry.NewRegistry([]config.StreamConfig{testCfg("s1")})
	r := New(reg)
	r.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
