// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds the CLI's persistent configuration, stored at
// ~/.kaspa-aio/kaspa-aio.yaml and created on first run.
package config

import (
	"os"
	"path/filepath"
)

// KaspaAIOConfig is the top-level configuration document.
type KaspaAIOConfig struct {
	// Server configures the local API server.
	Server ServerConfig `yaml:"server"`

	// Deploy configures the deployment root.
	Deploy DeployConfig `yaml:"deploy"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	// Addr is the API listen address. Local-only by default; this
	// server has no authentication.
	Addr string `yaml:"addr"` // e.g. 127.0.0.1:3880

	// Debug enables verbose request logging.
	Debug bool `yaml:"debug"`
}

type DeployConfig struct {
	// Dir is the deployment root holding compose files, the .env
	// file, and the installation state document.
	Dir string `yaml:"dir"`

	// RestURL is the REST server base URL used for post-deploy
	// validation and sync monitoring.
	RestURL string `yaml:"rest_url"`
}

type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Dir, when set, adds a JSON log file under this directory.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() KaspaAIOConfig {
	base := ".kaspa-aio"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".kaspa-aio")
	}

	return KaspaAIOConfig{
		Server: ServerConfig{
			Addr: "127.0.0.1:3880",
		},
		Deploy: DeployConfig{
			Dir:     filepath.Join(base, "deploy"),
			RestURL: "http://localhost:8000",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(base, "logs"),
		},
	}
}
