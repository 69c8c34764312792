// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package objectname classifies and parses the packager's object naming
// convention: "manifest*" for the MPD, "init*" for per-quality
// initialization segments, and "chunk*" for media chunks.
package objectname

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the category of an object name.
type Kind int

const (
	Unknown Kind = iota
	Manifest
	Init
	Chunk
)

// Classify returns the Kind implied by name's prefix.
func Classify(name string) Kind {
	switch {
	case strings.HasPrefix(name, "manifest"):
		return Manifest
	case strings.HasPrefix(name, "init"):
		return Init
	case strings.HasPrefix(name, "chunk"):
		return Chunk
	default:
		return Unknown
	}
}

var qualityPattern = regexp.MustCompile(`stream(\d+)`)

// QualityIndex extracts the quality index from the "stream<N>" token in
// name, e.g. 2 from "init-stream2.mp4" or "chunk-stream2-00048.m4s".
func QualityIndex(name string) (int, bool) {
	m := qualityPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

var segmentPattern = regexp.MustCompile(`-(\d+)\.m4s$`)

// SegmentNumber extracts the trailing segment number from a chunk name,
// e.g. 42 from "chunk-stream0-00042.m4s".
func SegmentNumber(name string) (int, bool) {
	m := segmentPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
