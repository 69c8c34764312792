// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package registry holds the frozen, process-wide set of configured
// streams and the per-stream runtime state: manifest, initialization
// segments, in-flight chunk segments, packager handle, and lifecycle
// status.
package registry

import (
	"sync"
	"time"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/internal/manifest"
	"github.com/Dash-Industry-Forum/ll-relay/internal/packager"
	"github.com/Dash-Industry-Forum/ll-relay/internal/segstore"
)

// Status is a stream's lifecycle state.
type Status int

const (
	StreamStopped Status = iota
	StreamStarted
)

// Stream is one configured live stream and all of its runtime state.
// stream.segments is only ever mutated under mu; current_segment is
// monotonically non-decreasing during a run.
type Stream struct {
	Cfg config.StreamConfig

	Manifest  *manifest.Manifest
	PackagerH *packager.Handle

	mu             sync.Mutex
	initSegments   map[int]*segstore.InitialSegment
	segments       map[string]*segstore.Segment
	status         Status
	lastAccess     time.Time
	currentSegment int
}

// New creates a Stream in the stopped state with fresh, empty manifest,
// init-segment map, and segment map.
func New(cfg config.StreamConfig) *Stream {
	s := &Stream{
		Cfg:       cfg,
		Manifest:  manifest.New(),
		PackagerH: &packager.Handle{},
		status:    StreamStopped,
	}
	s.initSegments = freshInitSegments(cfg)
	s.segments = make(map[string]*segstore.Segment)
	return s
}

func freshInitSegments(cfg config.StreamConfig) map[int]*segstore.InitialSegment {
	m := make(map[int]*segstore.InitialSegment, len(cfg.Qualities.Video))
	for i := range cfg.Qualities.Video {
		m[i] = segstore.NewInitialSegment()
	}
	return m
}

// Status returns the stream's current lifecycle status.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MarkStarted transitions the stream to started.
func (s *Stream) MarkStarted() {
	s.mu.Lock()
	s.status = StreamStarted
	s.mu.Unlock()
}

// TouchAccess updates last_access to now. Called on every inbound GET.
func (s *Stream) TouchAccess() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the last access.
func (s *Stream) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAccess.IsZero() {
		return 0
	}
	return now.Sub(s.lastAccess)
}

// SetCurrentSegment records the highest segment number seen on an
// inbound PUT. It never moves backwards.
func (s *Stream) SetCurrentSegment(n int) {
	s.mu.Lock()
	if n > s.currentSegment {
		s.currentSegment = n
	}
	s.mu.Unlock()
}

// CurrentSegment returns the highest segment number seen so far (the
// live edge).
func (s *Stream) CurrentSegment() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSegment
}

// GetOrCreateSegment returns the existing Segment named name, or creates
// and inserts a fresh one. created reports whether a new Segment was
// inserted by this call.
func (s *Stream) GetOrCreateSegment(name string) (seg *segstore.Segment, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.segments[name]; ok {
		return existing, false
	}
	seg = segstore.NewSegment(name)
	s.segments[name] = seg
	return seg, true
}

// LookupSegment returns the Segment named name, if any.
func (s *Stream) LookupSegment(name string) (*segstore.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[name]
	return seg, ok
}

// DeleteSegment removes the segment named name from the segment map.
func (s *Stream) DeleteSegment(name string) {
	s.mu.Lock()
	delete(s.segments, name)
	s.mu.Unlock()
}

// InitSegment returns the InitialSegment for quality index idx, if
// configured.
func (s *Stream) InitSegment(idx int) (*segstore.InitialSegment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.initSegments[idx]
	return seg, ok
}

// ResetInitSegments replaces the entire init-segment map with a fresh set
// of empty, unsignaled entries, one per configured quality.
func (s *Stream) ResetInitSegments() {
	fresh := freshInitSegments(s.Cfg)
	s.mu.Lock()
	s.initSegments = fresh
	s.mu.Unlock()
}

// ResetManifest replaces the Manifest with a fresh, unsignaled one whose
// skip counter starts again at zero.
func (s *Stream) ResetManifest() {
	s.Manifest = manifest.New()
}

// ClearSegments empties the segment map.
func (s *Stream) ClearSegments() {
	s.mu.Lock()
	s.segments = make(map[string]*segstore.Segment)
	s.mu.Unlock()
}

// Stop performs the atomic teardown sequence: kill the packager, reset
// manifest and init segments, clear the segment map, and mark the stream
// stopped.
func (s *Stream) Stop() {
	s.PackagerH.Stop()
	s.ResetManifest()
	s.ResetInitSegments()
	s.ClearSegments()
	s.mu.Lock()
	s.status = StreamStopped
	s.mu.Unlock()
}

// Registry is the frozen, process-wide mapping from stream id to Stream,
// plus the SSRS manual-override map. Frozen after startup: no dynamic
// stream creation at runtime. Reads need no locking beyond the override
// map, which is mutated by the /ssss control endpoint.
type Registry struct {
	streams map[string]*Stream

	overrideMu sync.RWMutex
	overrides  map[string]int
}

// NewRegistry builds a Registry from the loaded stream configurations.
func NewRegistry(cfgs []config.StreamConfig) *Registry {
	r := &Registry{
		streams:   make(map[string]*Stream, len(cfgs)),
		overrides: make(map[string]int),
	}
	for _, cfg := range cfgs {
		r.streams[cfg.Stream] = New(cfg)
	}
	return r
}

// Lookup returns the Stream for id, if configured.
func (r *Registry) Lookup(id string) (*Stream, bool) {
	s, ok := r.streams[id]
	return s, ok
}

// All returns every configured stream. Safe to range over concurrently:
// the map itself is never mutated after construction.
func (r *Registry) All() map[string]*Stream {
	return r.streams
}

// SetOverride stores a manual SSRS override for stream id.
func (r *Registry) SetOverride(id string, adaptationSet int) {
	r.overrideMu.Lock()
	r.overrides[id] = adaptationSet
	r.overrideMu.Unlock()
}

// Override returns the manual SSRS override for stream id, if any.
func (r *Registry) Override(id string) (int, bool) {
	r.overrideMu.RLock()
	defer r.overrideMu.RUnlock()
	v, ok := r.overrides[id]
	return v, ok
}
