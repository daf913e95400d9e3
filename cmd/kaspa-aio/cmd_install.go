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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kaspa-aio/kaspa-aio/cmd/kaspa-aio/config"
	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
)

// runInstall executes the full install pipeline from the terminal.
//
// Progress events drive a spinner on stderr; the final outcome is
// printed to stdout so the command composes in scripts.
func runInstall(cmd *cobra.Command, args []string) {
	profiles := args
	if len(profiles) == 0 {
		profiles = installProfiles
	}
	if len(profiles) == 0 {
		profiles = []string{"core"}
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

	var indicator ProgressIndicator = NoopIndicator{}
	if !installQuiet {
		indicator = NewSpinner(DefaultSpinnerConfig())
	}

	session := uuid.New().String()
	sub := eng.bus.Subscribe(session)

	// The event consumer owns the spinner; the pipeline below blocks
	// until the install reaches a terminal state.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for event := range sub.Events {
			switch event.Type {
			case wizard.EventInstallProgress:
				if p, ok := event.Payload.(wizard.ProgressPayload); ok {
					indicator.SetMessage(fmt.Sprintf("[%3d%%] %s", p.Progress, p.Message))
				}
			case wizard.EventInstallError:
				if p, ok := event.Payload.(wizard.ErrorPayload); ok {
					indicator.Stop()
					printInstallError(p)
				}
			case wizard.EventInstallComplete:
				if p, ok := event.Payload.(wizard.CompletePayload); ok {
					indicator.Stop()
					fmt.Printf("✔ %s\n", p.Message)
					if p.Validation != nil {
						printValidation(p.Validation)
					}
				}
			}
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	indicator.Start()
	installErr := eng.manager.Install(ctx, wizard.InstallRequest{
		Session:  session,
		Profiles: profiles,
		Config: &wizard.InstallConfig{
			Network: installNetwork,
			Ports: wizard.PortConfig{
				RPC: installRPCPort,
				P2P: installP2PPort,
			},
			DataDir:     installDataDir,
			ArchiveMode: installArchive,
		},
	})
	indicator.Stop()

	sub.Unsubscribe()
	<-consumerDone

	if installErr != nil {
		// The consumer already printed the classified details for
		// pipeline failures; busy rejections never emit events.
		fmt.Fprintf(os.Stderr, "Error: installation failed: %v\n", installErr)
		os.Exit(1)
	}
}

func printInstallError(p wizard.ErrorPayload) {
	fmt.Fprintf(os.Stderr, "✘ %s (stage: %s, category: %s)\n", p.Message, p.Stage, p.Category)
	fmt.Fprintf(os.Stderr, "  %s\n", p.Error)
	if p.FailedService != "" {
		fmt.Fprintf(os.Stderr, "  failed service: %s\n", p.FailedService)
	}
	for _, step := range p.TroubleshootingSteps {
		fmt.Fprintf(os.Stderr, "  - %s\n", step)
	}
	for _, s := range p.Suggestions {
		fmt.Fprintf(os.Stderr, "  suggestion: %s\n", s.Description)
		if s.Command != "" {
			fmt.Fprintf(os.Stderr, "    run: %s\n", s.Command)
		}
		if s.Warning != "" {
			fmt.Fprintf(os.Stderr, "    warning: %s\n", s.Warning)
		}
	}
	if p.DocumentationLink != "" {
		fmt.Fprintf(os.Stderr, "  see: %s\n", p.DocumentationLink)
	}
}

func printValidation(report *wizard.ValidationReport) {
	for _, svc := range report.Services {
		marker := "✔"
		if svc.Status != "running" {
			marker = "✘"
		}
		fmt.Printf("  %s %s: %s\n", marker, svc.Name, svc.Status)
	}
	if report.InfrastructureSummary != "" {
		fmt.Printf("  %s\n", report.InfrastructureSummary)
	}
}
