// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != "127.0.0.1:3880" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Deploy.Dir == "" || cfg.Deploy.RestURL == "" {
		t.Errorf("deploy defaults missing: %+v", cfg.Deploy)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestLoadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kaspa-aio.yaml")
	content := []byte("server:\n  addr: 0.0.0.0:9000\n  debug: true\ndeploy:\n  dir: /data/kaspa\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:9000" || !cfg.Server.Debug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Deploy.Dir != "/data/kaspa" {
		t.Errorf("deploy dir = %s", cfg.Deploy.Dir)
	}
	// Omitted fields pick up defaults.
	if cfg.Deploy.RestURL != "http://localhost:8000" {
		t.Errorf("rest url = %s", cfg.Deploy.RestURL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestLoadFrom_Missing(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestCreateDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "kaspa-aio.yaml")
	if err := createDefault(path); err != nil {
		t.Fatalf("createDefault failed: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Server.Addr != DefaultConfig().Server.Addr {
		t.Errorf("round-tripped addr = %s", cfg.Server.Addr)
	}
}
