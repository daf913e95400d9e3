// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaspa-aio/kaspa-aio/cmd/kaspa-aio/config"
	"github.com/kaspa-aio/kaspa-aio/internal/server"
	"github.com/kaspa-aio/kaspa-aio/internal/server/observability"
	"github.com/kaspa-aio/kaspa-aio/internal/server/routes"
)

// runServe starts the installer API server and blocks until SIGINT or
// SIGTERM.
func runServe(cmd *cobra.Command, args []string) {
	eng, err := newEngine(config.Global)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer eng.close()

	// One kaspa-aio process at a time; the web wizard and a headless
	// install must not race each other.
	if err := eng.acquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: another kaspa-aio process is running (pid %d): %v\n",
			eng.lock.HolderPID(), err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.lock.Release(); err != nil {
			eng.log.Warn("failed to release install lock", "error", err)
		}
	}()

	metrics := observability.InitMetrics()
	eng.manager.SetMetrics(metrics)
	eng.supervisor.SetMetrics(metrics)

	srv, err := server.New(server.Config{
		Addr:  config.Global.Server.Addr,
		Debug: config.Global.Server.Debug,
	}, routes.Deps{
		Manager:    eng.manager,
		Store:      eng.store,
		Supervisor: eng.supervisor,
		Bus:        eng.bus,
		Metrics:    metrics,
		Log:        eng.log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		os.Exit(1)
	}
}
