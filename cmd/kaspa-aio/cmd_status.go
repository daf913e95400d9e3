// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaspa-aio/kaspa-aio/cmd/kaspa-aio/config"
)

// runStatus prints the persisted installation state and, when docker
// is reachable, the live container status.
func runStatus(cmd *cobra.Command, args []string) {
	eng, err := newEngine(config.Global)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer eng.close()

	state, err := eng.store.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read installation state: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Phase:    %s\n", state.Phase)
	if len(state.Profiles) > 0 {
		fmt.Printf("Profiles: %s\n", strings.Join(state.Profiles, ", "))
	}
	if state.Configuration != nil {
		fmt.Printf("Network:  %s\n", state.Configuration.Network)
	}
	if state.InstalledAt != nil {
		fmt.Printf("Installed: %s\n", state.InstalledAt.Format(time.RFC3339))
	}
	if state.WizardRunning {
		fmt.Println("An installation is currently running.")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	status, err := eng.executor.Status(ctx)
	if err != nil {
		fmt.Printf("\nContainers: unavailable (%v)\n", err)
		return
	}

	fmt.Printf("\nContainers: %d running, %d stopped, %d unhealthy\n",
		status.Running, status.Stopped, status.Unhealthy)
	for _, svc := range status.Services {
		health := ""
		if svc.Healthy != nil {
			if *svc.Healthy {
				health = " (healthy)"
			} else {
				health = " (unhealthy)"
			}
		}
		fmt.Printf("  %-24s %s%s\n", svc.Name, svc.State, health)
	}
}

// runReset tears the stack down and returns the state to idle.
func runReset(cmd *cobra.Command, args []string) {
	if resetVolumes && !resetYes {
		fmt.Print("This deletes all chain state and indexer data. Type 'yes' to continue: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	eng, err := newEngine(config.Global)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer eng.close()

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

	if err := eng.manager.Uninstall(cmd.Context(), resetVolumes); err != nil {
		fmt.Fprintf(os.Stderr, "Error: reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Stack stopped; installation state is idle.")
}
