// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configFile string // CLI override for the config path

	installProfiles []string
	installNetwork  string
	installRPCPort  int
	installP2PPort  int
	installArchive  bool
	installDataDir  string
	installQuiet    bool

	resetVolumes bool
	resetYes     bool

	unlockForce bool

	rootCmd = &cobra.Command{
		Use:   "kaspa-aio",
		Short: "A cli to install and manage the Kaspa all-in-one container stack",
		Long: `kaspa-aio deploys a complete Kaspa node stack (node, indexer,
				REST server, explorer, dashboard) on your own machine using
				docker compose, and monitors its sync progress.`,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the local installer API server used by the web wizard",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Install / Teardown ---
	installCmd = &cobra.Command{
		Use:   "install [profile...]",
		Short: "Install the stack headlessly without the web wizard",
		Long: `Runs the full installation pipeline from the terminal: validates
				the configuration, pulls and builds images, starts the stack,
				and verifies it is healthy. Profiles default to "core".`,
		Run: runInstall, // Defined in cmd_install.go
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Stop the stack and return to an idle installation state",
		Run:   runReset, // Defined in cmd_status.go
	}

	unlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Clear a stale install lock left by a crashed process",
		Run:   runUnlock, // Defined in cmd_unlock.go
	}

	// --- Inspection ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the persisted installation state and running services",
		Run:   runStatus, // Defined in cmd_status.go
	}

	// --- Background Tasks ---
	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "Inspect sync-monitoring tasks on the running server",
	}
	tasksListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered tasks",
		Run:   runTasksList, // Defined in cmd_tasks.go
	}
	tasksCancelCmd = &cobra.Command{
		Use:   "cancel [task_id]",
		Short: "Cancel a running task",
		Run:   runTasksCancel, // Defined in cmd_tasks.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to the config file (default ~/.kaspa-aio/kaspa-aio.yaml)")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringSliceVar(&installProfiles, "profiles", nil,
		"Profiles to install (alternative to positional args)")
	installCmd.Flags().StringVar(&installNetwork, "network", "mainnet",
		"Kaspa network: mainnet, testnet-10, testnet-11, devnet, or simnet")
	installCmd.Flags().IntVar(&installRPCPort, "rpc-port", 16110, "Host port for node RPC")
	installCmd.Flags().IntVar(&installP2PPort, "p2p-port", 16111, "Host port for node P2P")
	installCmd.Flags().BoolVar(&installArchive, "archive", false,
		"Keep full historical data on the node")
	installCmd.Flags().StringVar(&installDataDir, "data-dir", "",
		"Override the data directory for chain state")
	installCmd.Flags().BoolVar(&installQuiet, "quiet", false,
		"Suppress the progress spinner (for scripting)")

	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetVolumes, "volumes", false,
		"DANGER: also delete data volumes (chain state, indexer database)")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(unlockCmd)
	unlockCmd.Flags().BoolVar(&unlockForce, "force", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
}
