// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package relayhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dash-Industry-Forum/ll-relay/internal/objectname"
)

var defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}

const (
	manifestReqsName    = "manifest_requests_total"
	manifestLatencyName = "manifest_request_duration_milliseconds"
	chunkReqsName       = "chunk_requests_total"
	chunkLatencyName    = "chunk_request_duration_milliseconds"
	service             = "llrelay"
)

// relayMetrics exposes prometheus counters/histograms for manifest and
// chunk/init traffic, partitioned by response status code.
type relayMetrics struct {
	manifestReqs    *prometheus.CounterVec
	manifestLatency *prometheus.HistogramVec
	chunkReqs       *prometheus.CounterVec
	chunkLatency    *prometheus.HistogramVec
}

var metricsMW relayMetrics

func init() {
	metricsMW.manifestReqs = newCounter(manifestReqsName, "Number of manifest requests processed, partitioned by status code.")
	metricsMW.manifestLatency = newHistogram(manifestLatencyName, "Manifest response latency.", defaultBuckets)
	metricsMW.chunkReqs = newCounter(chunkReqsName, "Number of init/chunk requests processed, partitioned by status code.")
	metricsMW.chunkLatency = newHistogram(chunkLatencyName, "Init/chunk response latency.", defaultBuckets)
}

// NewMetricsMiddleware returns the process-wide relay metrics middleware.
func NewMetricsMiddleware() func(http.Handler) http.Handler {
	return metricsMW.middleware
}

// middleware wraps next with request counting/latency recording,
// classifying each request by the trailing path segment's object kind.
func (m *relayMetrics) middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		name := lastPathSegment(r.URL.Path)
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := statusLabel(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6

		switch objectname.Classify(name) {
		case objectname.Manifest:
			m.manifestReqs.WithLabelValues(status).Inc()
			m.manifestLatency.WithLabelValues(status).Observe(latencyMS)
		case objectname.Init, objectname.Chunk:
			m.chunkReqs.WithLabelValues(status).Inc()
			m.chunkLatency.WithLabelValues(status).Observe(latencyMS)
		}
	}
	return http.HandlerFunc(fn)
}

func lastPathSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "xxx"
	}
}

func newCounter(name, help string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"status"},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(name, help string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
		Buckets:     buckets,
	}, []string{"status"})
	prometheus.MustRegister(h)
	return h
}
