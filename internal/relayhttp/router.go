// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package relayhttp implements the HTTP surface that binds the segment
// store, stream registry, manifest transformer, packager supervisor, and
// SSRS rewriter into the relay's producer/consumer protocol.
package relayhttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/internal/packager"
	"github.com/Dash-Industry-Forum/ll-relay/internal/registry"
	"github.com/Dash-Industry-Forum/ll-relay/pkg/logging"
)

// NewRouter assembles the chi router for the relay: access logging,
// panic recovery, prometheus metrics, permissive CORS, the object
// GET/PUT/DELETE surface, the control-plane SSRS endpoint, and the
// ambient /version, /conf, /isotime, /loglevel, /metrics routes.
func NewRouter(reg *registry.Registry, super *packager.Supervisor, cfg *config.ServerConfig, baseURL string) *chi.Mux {
	h := &Handlers{Reg: reg, Super: super, Cfg: cfg, BaseURL: baseURL, stats: newClientStats()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(NewMetricsMiddleware())
	r.Use(addCORSHeaders)

	r.Mount("/metrics", promhttp.Handler())
	r.MethodFunc(http.MethodGet, "/loglevel", logging.LogLevelGet)
	r.MethodFunc(http.MethodPost, "/loglevel", logging.LogLevelSet)

	r.MethodFunc(http.MethodGet, "/", h.Version)
	r.MethodFunc(http.MethodGet, "/version", h.Version)
	r.MethodFunc(http.MethodGet, "/conf", h.Conf)
	r.MethodFunc(http.MethodGet, "/isotime", h.IsoTime)
	r.MethodFunc(http.MethodGet, "/healthz", h.Healthz)

	r.Route("/ssss", mountControlAPI(reg))

	r.MethodFunc(http.MethodGet, "/{streamData}/{name}", h.Fetch)
	r.MethodFunc(http.MethodPut, "/{stream}/{name}", h.Put)
	r.MethodFunc(http.MethodDelete, "/{stream}/{name}", h.Delete)

	return r
}

func addCORSHeaders(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Access-Control-Allow-Origin", "*")
		w.Header().Add("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Add("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
		w.Header().Add("Access-Control-Allow-Credentials", "true")
		w.Header().Add("Timing-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
