// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dash-Industry-Forum/ll-relay/internal"
	"github.com/Dash-Industry-Forum/ll-relay/internal/app"
	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	cfg, printVersion, err := config.LoadConfig(os.Args, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err.Error())
		return 1
	}
	if printVersion {
		internal.PrintVersion()
		return 0
	}

	if err := logging.InitSlog(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %s\n", err.Error())
		return 1
	}

	server, err := app.SetupServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up server: %s\n", err.Error())
		return 1
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancelBkg := context.WithCancel(context.Background())
	stopServer := make(chan error, 1)

	go func() {
		<-stopSignal
		cancelBkg()
		stopServer <- nil
	}()

	go func() {
		if err := server.Run(ctx); err != nil {
			stopServer <- err
		}
	}()

	if err := <-stopServer; err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %s\n", err.Error())
		return 1
	}
	return 0
}
