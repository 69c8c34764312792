// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package ssrs implements server-side representation switching: rewriting
// a lagging client's requested quality to a lower one based on how far
// behind the live edge it is.
package ssrs

import (
	"regexp"
	"strconv"
)

// streamToken matches the literal "stream" token immediately followed by
// its quality-index digits in an object name, e.g. "stream2" in
// "chunk-stream2-00048.m4s". Targeting this token specifically (rather
// than the first digit anywhere in the name) keeps the rewrite
// unambiguous when the stream id itself contains digits.
var streamToken = regexp.MustCompile(`stream(\d+)`)

// TargetRepresentation computes the down-shifted representation index for
// a client lagging behind the live edge. lag is measured in whole
// segments (currentSegment - requestedSegment). The result is clamped to
// [0, maxIndex].
func TargetRepresentation(maxIndex, lag int) int {
	target := maxIndex - lag
	if target < 0 {
		return 0
	}
	if target > maxIndex {
		return maxIndex
	}
	return target
}

// Rewrite substitutes the quality-index digits following the "stream"
// token in name with target, leaving the rest of the name untouched. If
// name has no such token, it is returned unchanged.
func Rewrite(name string, target int) string {
	found := false
	out := streamToken.ReplaceAllStringFunc(name, func(m string) string {
		if found {
			return m
		}
		found = true
		return replacementToken(target)
	})
	return out
}

func replacementToken(target int) string {
	return "stream" + strconv.Itoa(target)
}
