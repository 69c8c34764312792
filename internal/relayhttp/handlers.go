// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package relayhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dash-Industry-Forum/ll-relay/internal"
	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/internal/objectname"
	"github.com/Dash-Industry-Forum/ll-relay/internal/packager"
	"github.com/Dash-Industry-Forum/ll-relay/internal/registry"
	"github.com/Dash-Industry-Forum/ll-relay/internal/ssrs"
)

const (
	firstByteTimeout = 2 * time.Second
	chunkTimeout     = 1 * time.Second
	manifestTimeout  = 10 * time.Second
	initTimeout      = 5 * time.Second
	initPutDelay     = 200 * time.Millisecond
	readBufferSize   = 64 * 1024
)

// Handlers binds the registry, packager supervisor, and server
// configuration into the HTTP surface described by the relay protocol.
type Handlers struct {
	Reg     *registry.Registry
	Super   *packager.Supervisor
	Cfg     *config.ServerConfig
	BaseURL string

	stats *clientStats
}

// resolveStream maps a request's leading path segment, which for GET is
// "streamId[-clientId]", to its configured Stream.
func (h *Handlers) resolveStream(streamData string) (*registry.Stream, bool) {
	if s, ok := h.Reg.Lookup(streamData); ok {
		return s, true
	}
	if idx := strings.LastIndex(streamData, "-"); idx > 0 {
		if s, ok := h.Reg.Lookup(streamData[:idx]); ok {
			return s, true
		}
	}
	return nil, false
}

// Version writes the version banner for GET / and GET /version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, internal.GetVersion())
}

// Healthz reports liveness for GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("true"))
}

// Conf writes the configured streams as JSON for GET /conf.
func (h *Handlers) Conf(w http.ResponseWriter, r *http.Request) {
	all := h.Reg.All()
	cfgs := make([]config.StreamConfig, 0, len(all))
	for _, s := range all {
		cfgs = append(cfgs, s.Cfg)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfgs); err != nil {
		slog.Error("encode /conf response", "err", err)
	}
}

// IsoTime writes the current UTC time, minus the configured displacement,
// for GET /isotime.
func (h *Handlers) IsoTime(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	if h.Cfg.TimeDisplacement != 0 {
		now = now.Add(-time.Duration(h.Cfg.TimeDisplacement) * time.Second)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, now.Format("2006-01-02T15:04:05.000000Z"))
}

// Fetch handles GET /{streamData}/{name}: manifest, init segment, or chunk.
func (h *Handlers) Fetch(w http.ResponseWriter, r *http.Request) {
	streamData := chi.URLParam(r, "streamData")
	name := chi.URLParam(r, "name")

	stream, ok := h.resolveStream(streamData)
	if !ok {
		http.NotFound(w, r)
		return
	}
	stream.TouchAccess()
	if h.stats != nil {
		h.stats.record(streamData, stream.Cfg.SaveStats)
	}

	switch objectname.Classify(name) {
	case objectname.Manifest:
		h.fetchManifest(w, r, stream)
	case objectname.Init:
		h.fetchInit(w, r, name, stream)
	case objectname.Chunk:
		h.fetchChunk(w, r, name, stream)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) fetchManifest(w http.ResponseWriter, r *http.Request, stream *registry.Stream) {
	if err := h.Super.EnsureStarted(h.BaseURL, stream.Cfg, stream.PackagerH); err != nil {
		slog.Warn("packager spawn failed", "stream", stream.Cfg.Stream, "err", err)
	} else {
		stream.MarkStarted()
	}

	ctx, cancel := context.WithTimeout(r.Context(), manifestTimeout)
	defer cancel()
	if !stream.Manifest.Wait(ctx) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/dash+xml")
	if stream.Cfg.ServerSideRepresentationSwitching {
		_, _ = io.WriteString(w, stream.Manifest.Filtered())
		return
	}
	_, _ = io.WriteString(w, stream.Manifest.Raw())
}

func (h *Handlers) fetchInit(w http.ResponseWriter, r *http.Request, name string, stream *registry.Stream) {
	idx, ok := objectname.QualityIndex(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	initSeg, ok := stream.InitSegment(idx)
	if !ok {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), initTimeout)
	defer cancel()
	if !initSeg.Wait(ctx) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	_, _ = w.Write(initSeg.Data())
}

func (h *Handlers) fetchChunk(w http.ResponseWriter, r *http.Request, name string, stream *registry.Stream) {
	if stream.Cfg.ServerSideRepresentationSwitching {
		name = h.rewriteForSSRS(name, stream)
	}

	seg, existed := stream.LookupSegment(name)
	if !existed {
		if !h.Cfg.WaitForAbsentSegment {
			http.NotFound(w, r)
			return
		}
		seg, _ = stream.GetOrCreateSegment(name)
		ctx, cancel := context.WithTimeout(r.Context(), firstByteTimeout)
		defer cancel()
		if !seg.WaitFirstByte(ctx) {
			http.NotFound(w, r)
			return
		}
	}

	w.Header().Set("Content-Type", "video/mp4")

	if seg.Completed() {
		_, _ = w.Write(seg.CompletedData())
		return
	}

	flusher, _ := w.(http.Flusher)
	for i := 0; ; i++ {
		chunk := seg.ChunkAt(i)
		if chunk == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), chunkTimeout)
		ready := chunk.Wait(ctx)
		cancel()
		if !ready {
			return
		}
		if data := chunk.Data(); len(data) > 0 {
			if _, err := w.Write(data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (h *Handlers) rewriteForSSRS(name string, stream *registry.Stream) string {
	maxIdx := stream.Cfg.MaxAdaptationSet()
	target := 0
	if override, ok := h.Reg.Override(stream.Cfg.Stream); ok {
		target = override
	} else if segNum, ok := objectname.SegmentNumber(name); ok {
		lag := stream.CurrentSegment() - segNum
		target = ssrs.TargetRepresentation(maxIdx, lag)
	}
	return ssrs.Rewrite(name, target)
}

// Put handles PUT /{stream}/{name}: the packager uploads manifest, init,
// or chunk data.
func (h *Handlers) Put(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "stream")
	name := chi.URLParam(r, "name")

	stream, ok := h.Reg.Lookup(streamID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !authorized(r, stream.Cfg) {
		w.Header().Set("WWW-Authenticate", `Basic realm="llrelay"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch objectname.Classify(name) {
	case objectname.Manifest:
		h.putManifest(w, r, stream)
	case objectname.Init:
		h.putInit(w, r, name, stream)
	case objectname.Chunk:
		h.putChunk(w, r, name, stream)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) putManifest(w http.ResponseWriter, r *http.Request, stream *registry.Stream) {
	defer r.Body.Close()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read manifest body", http.StatusBadRequest)
		return
	}
	if err := stream.Manifest.Set(payload); err != nil {
		slog.Warn("malformed manifest, not stored", "stream", stream.Cfg.Stream, "err", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) putInit(w http.ResponseWriter, r *http.Request, name string, stream *registry.Stream) {
	idx, ok := objectname.QualityIndex(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	initSeg, ok := stream.InitSegment(idx)
	if !ok {
		http.NotFound(w, r)
		return
	}
	time.Sleep(initPutDelay)
	defer r.Body.Close()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read init segment body", http.StatusBadRequest)
		return
	}
	initSeg.Set(payload)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) putChunk(w http.ResponseWriter, r *http.Request, name string, stream *registry.Stream) {
	if segNum, ok := objectname.SegmentNumber(name); ok {
		stream.SetCurrentSegment(segNum)
	}
	seg, _ := stream.GetOrCreateSegment(name)
	seg.SignalFirstByte()

	defer r.Body.Close()
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			blob := make([]byte, n)
			copy(blob, buf[:n])
			seg.AppendBlob(blob)
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("chunk body read error", "stream", stream.Cfg.Stream, "name", name, "err", err)
			}
			break
		}
	}
	seg.Complete()
	w.WriteHeader(http.StatusOK)
}

// Delete handles DELETE /{stream}/{name}: the packager retires an object.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "stream")
	name := chi.URLParam(r, "name")

	stream, ok := h.Reg.Lookup(streamID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !authorized(r, stream.Cfg) {
		w.Header().Set("WWW-Authenticate", `Basic realm="llrelay"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch objectname.Classify(name) {
	case objectname.Manifest:
		stream.ResetManifest()
	case objectname.Init:
		stream.ResetInitSegments()
	case objectname.Chunk:
		stream.DeleteSegment(name)
	default:
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func authorized(r *http.Request, cfg config.StreamConfig) bool {
	if cfg.AuthUser == "" && cfg.AuthPassword == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == cfg.AuthUser && pass == cfg.AuthPassword
}
