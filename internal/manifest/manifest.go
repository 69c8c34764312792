// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package manifest holds the per-stream MPEG-DASH MPD text and derives
// the server-side-representation-switching (SSRS) filtered variant that
// keeps only one Representation per AdaptationSet.
package manifest

import (
	"context"
	"fmt"
	"sync"

	"github.com/beevik/etree"
)

// skipWarmupCount is how many manifest PUTs are discarded before the first
// one is exposed, absorbing the packager's warmup manifests.
const skipWarmupCount = 5

// Manifest holds the raw and SSRS-filtered manifest text for one stream,
// plus a one-shot readiness signal. A fresh Manifest always starts
// unsignaled with its skip counter at zero.
type Manifest struct {
	mu        sync.Mutex
	skipped   int
	raw       string
	filtered  string
	ready     chan struct{}
	readyOnce sync.Once
}

// New returns a fresh, unsignaled Manifest with its skip counter reset.
func New() *Manifest {
	return &Manifest{ready: make(chan struct{})}
}

// Set stores the payload as the current manifest, unless it is one of the
// first skipWarmupCount PUTs, which are silently discarded. On payloads
// that are kept, it strips XML namespace prefixes and removes every
// Representation whose id is not "0" from each AdaptationSet, then
// signals readiness. Malformed XML is reported and the manifest is left
// unchanged, matching the "packager is a trusted producer" error policy.
func (m *Manifest) Set(payload []byte) error {
	m.mu.Lock()
	if m.skipped < skipWarmupCount {
		m.skipped++
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	filtered, err := ssrsFilter(payload)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	m.mu.Lock()
	m.raw = string(payload)
	m.filtered = filtered
	m.mu.Unlock()

	m.readyOnce.Do(func() { close(m.ready) })
	return nil
}

// Wait blocks until a manifest has been exposed, ctx is done, or the
// deadline elapses.
func (m *Manifest) Wait(ctx context.Context) bool {
	select {
	case <-m.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

// Raw returns the unfiltered manifest text.
func (m *Manifest) Raw() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// Filtered returns the SSRS-filtered manifest text.
func (m *Manifest) Filtered() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filtered
}

// ssrsFilter parses payload as an MPD, strips namespace prefixes from every
// element tag, and removes every Representation child of an AdaptationSet
// whose id attribute is not "0". It preserves attribute order and the XML
// declaration.
func ssrsFilter(payload []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return "", fmt.Errorf("parse MPD: %w", err)
	}

	stripNamespacePrefixes(doc.Root())

	for _, period := range doc.FindElements("//Period") {
		for _, as := range period.FindElements("AdaptationSet") {
			for _, rep := range as.SelectElements("Representation") {
				if rep.SelectAttrValue("id", "") != "0" {
					as.RemoveChild(rep)
				}
			}
		}
	}

	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize MPD: %w", err)
	}
	return out, nil
}

// stripNamespacePrefixes removes any "prefix:" portion of every element's
// tag, recursively, matching the inherited behavior of dropping namespace
// qualification on output. Prefix declarations (xmlns:foo) are dropped
// along with the prefixes themselves; a default xmlns is left alone.
func stripNamespacePrefixes(e *etree.Element) {
	if e == nil {
		return
	}
	e.Space = ""
	kept := e.Attr[:0]
	for _, a := range e.Attr {
		if a.Space == "xmlns" {
			continue
		}
		a.Space = ""
		kept = append(kept, a)
	}
	e.Attr = kept
	for _, child := range e.ChildElements() {
		stripNamespacePrefixes(child)
	}
}
