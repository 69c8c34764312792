// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package relayhttp

import "sync"

// clientStats keeps a request count per stream+client pair for streams
// configured with saveStats=true. There is no CSV export or metrics
// backend behind it; the counts live and die with the process.
type clientStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func newClientStats() *clientStats {
	return &clientStats{counts: make(map[string]int)}
}

// record increments the request count for streamData (the raw
// "streamId[-clientId]" path segment), if stream.Cfg.SaveStats is set.
func (cs *clientStats) record(streamData string, saveStats bool) {
	if !saveStats {
		return
	}
	cs.mu.Lock()
	cs.counts[streamData]++
	cs.mu.Unlock()
}

// count returns the current request count for streamData.
func (cs *clientStats) count(streamData string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.counts[streamData]
}
