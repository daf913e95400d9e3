// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/kaspa-aio/kaspa-aio/cmd/kaspa-aio/config"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			cfg, err := config.LoadFrom(configFile)
			if err != nil {
				log.Fatalf("Error loading config from %s: %v", configFile, err)
			}
			config.Global = cfg
			return
		}
		if err := config.Load(); err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
	}
}
