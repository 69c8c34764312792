// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package segstore holds the in-memory representation of one media
// segment as it is ingested chunk by chunk, and the synchronization
// primitives that let any number of readers consume it while it is
// still growing.
package segstore

import (
	"context"
	"sync"
)

// Chunk is an immutable byte-blob plus a one-shot readiness signal.
// It is created empty as a placeholder, filled exactly once, and
// never modified thereafter.
type Chunk struct {
	data  []byte
	ready chan struct{}
}

func newChunk() *Chunk {
	return &Chunk{ready: make(chan struct{})}
}

// fill sets the chunk's bytes and signals readiness. Calling fill twice
// on the same chunk is a programmer error; the producer loop never does.
func (c *Chunk) fill(data []byte) {
	c.data = data
	close(c.ready)
}

// signal marks the chunk ready without ever assigning data. This is how
// the producer terminates a reader's wait without claiming another blob
// arrived: the chunk's data stays nil forever.
func (c *Chunk) signal() {
	close(c.ready)
}

// Wait blocks until the chunk is ready or ctx is done, whichever comes
// first. It reports whether the chunk became ready.
func (c *Chunk) Wait(ctx context.Context) bool {
	select {
	case <-c.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

// Data returns the chunk's bytes. Only meaningful after Wait returns true.
// A placeholder chunk that was signaled without ever being filled (the
// final, trailing one on segment completion) returns nil.
func (c *Chunk) Data() []byte {
	return c.data
}

// Segment holds the growing, ordered byte sequence of one media object,
// e.g. "chunk-stream0-00007.m4s". The chunk slice always carries a
// trailing placeholder while the segment is incomplete, so a consumer
// can always await "the next chunk" without racing the producer's append.
type Segment struct {
	name string

	mu        sync.Mutex
	chunks    []*Chunk
	completed bool
	data      []byte // concatenation of all filled chunk bytes, grows with each append

	firstByte chan struct{}
	onceFirst sync.Once
}

// NewSegment creates a Segment with a single empty placeholder chunk,
// matching the state a producer or a waiting consumer first observes it in.
func NewSegment(name string) *Segment {
	return &Segment{
		name:      name,
		chunks:    []*Chunk{newChunk()},
		firstByte: make(chan struct{}),
	}
}

// Name returns the segment's request name.
func (s *Segment) Name() string { return s.name }

// SignalFirstByte marks the segment as having started receiving data.
// Idempotent: only the first call has any effect.
func (s *Segment) SignalFirstByte() {
	s.onceFirst.Do(func() { close(s.firstByte) })
}

// WaitFirstByte blocks until SignalFirstByte has been called, ctx is done,
// or the deadline elapses.
func (s *Segment) WaitFirstByte(ctx context.Context) bool {
	select {
	case <-s.firstByte:
		return true
	case <-ctx.Done():
		return false
	}
}

// AppendBlob is the producer-side operation for one inbound body read:
// it appends a fresh trailing placeholder, then fills the previous
// trailing chunk with data, preserving the invariant that the chunk
// list always ends in an unfilled placeholder while receiving.
func (s *Segment) AppendBlob(data []byte) {
	s.mu.Lock()
	trailing := s.chunks[len(s.chunks)-1]
	s.chunks = append(s.chunks, newChunk())
	s.data = append(s.data, data...)
	s.mu.Unlock()

	trailing.fill(data)
}

// Complete finalizes the segment: it signals the final trailing
// placeholder (releasing any reader waiting on "the next chunk" with no
// data ever arriving for it) and marks the segment completed.
func (s *Segment) Complete() {
	s.mu.Lock()
	trailing := s.chunks[len(s.chunks)-1]
	s.completed = true
	s.mu.Unlock()

	trailing.signal()
}

// Completed reports whether the producer has finished this segment.
func (s *Segment) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// CompletedData returns the full concatenated byte buffer. Only
// meaningful once Completed returns true.
func (s *Segment) CompletedData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// ChunkAt returns the chunk at index i, or nil if i is beyond what has
// been appended so far.
func (s *Segment) ChunkAt(i int) *Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.chunks) {
		return nil
	}
	return s.chunks[i]
}

// InitialSegment is a one-time per-quality header, replaced atomically
// on PUT and cleared on DELETE or stream teardown.
type InitialSegment struct {
	mu    sync.Mutex
	data  []byte
	ready chan struct{}
	once  sync.Once
}

// NewInitialSegment returns an empty, unsignaled InitialSegment.
func NewInitialSegment() *InitialSegment {
	return &InitialSegment{ready: make(chan struct{})}
}

// Set stores the body bytes and signals readiness. A subsequent PUT calls
// Set again on the same entry: it replaces the stored bytes, and readiness,
// already signaled, stays signaled.
func (i *InitialSegment) Set(data []byte) {
	i.mu.Lock()
	i.data = data
	i.mu.Unlock()
	i.once.Do(func() { close(i.ready) })
}

// Wait blocks until the segment is ready, ctx is done, or the deadline
// elapses.
func (i *InitialSegment) Wait(ctx context.Context) bool {
	select {
	case <-i.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

// Data returns the stored bytes. Only meaningful after Wait returns true.
func (i *InitialSegment) Data() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.data
}
