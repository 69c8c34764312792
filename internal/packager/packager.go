// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package packager launches and tracks the external transcoder/segmenter
// process ("the packager") that produces a stream's manifest, init
// segments, and chunks, and PUTs them back to this server.
package packager

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
)

// State is a packager's lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Started
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Started:
		return "started"
	default:
		return "unknown"
	}
}

// Handle is one stream's packager process tracking record. It is owned by
// the stream's registry entry and mutated only through
// Supervisor.EnsureStarted and Handle.Stop.
type Handle struct {
	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Supervisor spawns packager processes under a single, process-wide mutex
// that serializes every start attempt across every stream, matching the
// inherited behavior of a single lock guarding all packager launches.
type Supervisor struct {
	mu sync.Mutex

	// ProbeTool is the executable looked up on PATH at startup; if it
	// cannot be found the process must exit non-zero before serving.
	ProbeTool string

	// buildCommand assembles the argv for a start attempt. It defaults to
	// Command but is overridable in tests so EnsureStarted can be
	// exercised without spawning a real packager binary.
	buildCommand func(baseURL string, cfg config.StreamConfig) ([]string, error)
}

// NewSupervisor returns a Supervisor that probes for probeTool (e.g.
// "ffmpeg") on PATH.
func NewSupervisor(probeTool string) *Supervisor {
	return &Supervisor{ProbeTool: probeTool, buildCommand: Command}
}

// NewSupervisorWithCommand returns a Supervisor that assembles packager
// argv via build instead of the real Command function. Exposed for tests
// in other packages that exercise EnsureStarted without a real packager
// binary on PATH.
func NewSupervisorWithCommand(probeTool string, build func(baseURL string, cfg config.StreamConfig) ([]string, error)) *Supervisor {
	return &Supervisor{ProbeTool: probeTool, buildCommand: build}
}

// CheckProbeTool looks up the packager executable on PATH, returning an
// error if it is absent.
func (s *Supervisor) CheckProbeTool() error {
	if s.ProbeTool == "" {
		return nil
	}
	if _, err := exec.LookPath(s.ProbeTool); err != nil {
		return fmt.Errorf("packager tool %q not found on PATH: %w", s.ProbeTool, err)
	}
	return nil
}

// EnsureStarted starts the packager for this stream if it is currently
// stopped, under the process-wide mutex. Concurrent callers that observe
// a non-stopped state return immediately without spawning a second
// process, matching the inherited concurrency guarantee.
func (s *Supervisor) EnsureStarted(baseURL string, cfg config.StreamConfig, h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.mu.Lock()
	if h.state != Stopped {
		h.mu.Unlock()
		return nil
	}
	h.state = Starting
	h.mu.Unlock()

	argv, err := s.buildCommand(baseURL, cfg)
	if err != nil {
		h.mu.Lock()
		h.state = Stopped
		h.mu.Unlock()
		return fmt.Errorf("assemble packager command: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		h.mu.Lock()
		h.state = Stopped
		h.mu.Unlock()
		return fmt.Errorf("spawn packager: %w", err)
	}

	h.mu.Lock()
	h.cmd = cmd
	h.state = Started
	h.mu.Unlock()
	return nil
}

// Stop kills the packager process, if any, and resets the handle to
// Stopped. Safe to call on an already-stopped handle.
func (h *Handle) Stop() {
	h.mu.Lock()
	cmd := h.cmd
	h.cmd = nil
	h.state = Stopped
	h.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		go cmd.Wait() //nolint:errcheck // reap without blocking the caller
	}
}
