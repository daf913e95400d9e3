// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global KaspaAIOConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable.
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal(configPath())
	})
	return err
}

// LoadFrom reads the config from an explicit path, bypassing the
// singleton. Used by tests and the --config flag.
func LoadFrom(path string) (KaspaAIOConfig, error) {
	var cfg KaspaAIOConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".kaspa-aio", "kaspa-aio.yaml")
	}
	return filepath.Join(home, ".kaspa-aio", "kaspa-aio.yaml")
}

func loadInternal(path string) error {
	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}
	if err = yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("failed to parse the config file: %w", err)
	}
	applyDefaults(&Global)
	return nil
}

// applyDefaults fills fields a hand-edited config may have dropped.
func applyDefaults(cfg *KaspaAIOConfig) {
	defaults := DefaultConfig()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if cfg.Deploy.Dir == "" {
		cfg.Deploy.Dir = defaults.Deploy.Dir
	}
	if cfg.Deploy.RestURL == "" {
		cfg.Deploy.RestURL = defaults.Deploy.RestURL
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
