// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package reaper periodically tears down streams that have gone idle,
// freeing the packager process and any buffered segments they hold.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/internal/registry"
)

// Reaper sweeps a Registry on a fixed interval, stopping any stream that
// has not been accessed within the inactivity threshold.
type Reaper struct {
	reg       *registry.Registry
	interval  time.Duration
	threshold time.Duration
}

// New creates a Reaper using the documented interval and threshold.
func New(reg *registry.Registry) *Reaper {
	return &Reaper{
		reg:       reg,
		interval:  config.ReaperInterval,
		threshold: config.InactivityThreshold,
	}
}

// Run blocks, sweeping the registry every interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	now := time.Now()
	for id, s := range r.reg.All() {
		if s.Status() != registry.StreamStarted {
			continue
		}
		if s.IdleSince(now) < r.threshold {
			continue
		}
		slog.Info("reaping idle stream", "stream", id, "idleFor", s.IdleSince(now))
		s.Stop()
	}
}
