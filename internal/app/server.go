// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package app wires the relay's components (registry, packager
// supervisor, inactivity reaper, HTTP router) into a runnable server and
// owns its TLS/plain-HTTP listen strategy.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/caddyserver/certmagic"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/internal/packager"
	"github.com/Dash-Industry-Forum/ll-relay/internal/reaper"
	"github.com/Dash-Industry-Forum/ll-relay/internal/registry"
	"github.com/Dash-Industry-Forum/ll-relay/internal/relayhttp"
)

// probeTool is the external packager binary looked up on PATH at startup.
const probeTool = "ffmpeg"

// Server is the assembled relay: its stream registry, packager
// supervisor, inactivity reaper, and HTTP router.
type Server struct {
	Cfg      *config.ServerConfig
	Registry *registry.Registry
	Super    *packager.Supervisor
	Reaper   *reaper.Reaper
	Router   http.Handler
}

// SetupServer builds a Server from loaded configuration and the streams
// it names. It does not start listening; call Run for that.
func SetupServer(cfg *config.ServerConfig) (*Server, error) {
	streams, err := config.LoadStreams(cfg.StreamsFile)
	if err != nil {
		return nil, fmt.Errorf("load streams: %w", err)
	}

	reg := registry.NewRegistry(streams)
	super := packager.NewSupervisor(probeTool)
	if err := super.CheckProbeTool(); err != nil {
		return nil, err
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	scheme := "http"
	if cfg.HTTPS() || cfg.Domains != "" {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Port)
	router := relayhttp.NewRouter(reg, super, cfg, baseURL)

	return &Server{
		Cfg:      cfg,
		Registry: reg,
		Super:    super,
		Reaper:   reaper.New(reg),
		Router:   router,
	}, nil
}

// Run starts the inactivity reaper, which stops when ctx is canceled, and
// serves HTTP, choosing ACME, explicit-certificate, or plain HTTP per
// configuration. Canceling ctx does not stop the listener; Run returns only
// when the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.Reaper.Run(ctx)

	addr := fmt.Sprintf(":%d", s.Cfg.Port)
	var err error
	switch {
	case s.Cfg.Domains != "":
		domains := strings.Split(s.Cfg.Domains, ",")
		slog.Info("starting ACME HTTPS listener", "domains", domains)
		err = certmagic.HTTPS(domains, s.Router)
	case s.Cfg.HTTPS():
		slog.Info("starting HTTPS listener", "addr", addr)
		err = http.ListenAndServeTLS(addr, s.Cfg.SSLCertFile, s.Cfg.SSLKeyFile, s.Router)
	default:
		slog.Info("starting HTTP listener", "addr", addr)
		err = http.ListenAndServe(addr, s.Router)
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
