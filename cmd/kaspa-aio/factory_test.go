// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"path/filepath"
	"testing"

	"github.com/kaspa-aio/kaspa-aio/cmd/kaspa-aio/config"
	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
)

func testConfig(t *testing.T) config.KaspaAIOConfig {
	t.Helper()
	return config.KaspaAIOConfig{
		Deploy: config.DeployConfig{
			Dir:     filepath.Join(t.TempDir(), "deploy"),
			RestURL: "http://127.0.0.1:8000",
		},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func TestAcquireLock_PreservesLiveInstallFlag(t *testing.T) {
	cfg := testConfig(t)

	eng1, err := newEngine(cfg)
	if err != nil {
		t.Fatalf("newEngine failed: %v", err)
	}
	defer eng1.close()

	if err := eng1.acquireLock(); err != nil {
		t.Fatalf("acquireLock failed: %v", err)
	}

	// An install goes live under the first engine's lock.
	if err := eng1.store.BeginInstall([]string{"core"}, &wizard.InstallConfig{
		Network: "mainnet",
		Ports:   wizard.PortConfig{RPC: 16110, P2P: 16111},
	}); err != nil {
		t.Fatal(err)
	}

	// A second CLI invocation on the same deployment: constructing the
	// engine must not touch the live flag.
	eng2, err := newEngine(cfg)
	if err != nil {
		t.Fatalf("second newEngine failed: %v", err)
	}
	defer eng2.close()

	state, err := eng2.store.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !state.WizardRunning {
		t.Fatal("engine construction cleared a live install flag")
	}

	// The lock is held elsewhere, so the second invocation is refused
	// and the flag survives.
	if err := eng2.acquireLock(); err == nil {
		t.Fatal("acquireLock should fail while another engine holds the lock")
	}
	state, _ = eng2.store.Read()
	if !state.WizardRunning {
		t.Fatal("refused lock attempt cleared a live install flag")
	}

	// Once the holder is gone the flag is provably stale, and the next
	// lock holder clears it.
	if err := eng1.lock.Release(); err != nil {
		t.Fatal(err)
	}
	if err := eng2.acquireLock(); err != nil {
		t.Fatalf("acquireLock after release failed: %v", err)
	}
	defer func() {
		if err := eng2.lock.Release(); err != nil {
			t.Error(err)
		}
	}()

	state, _ = eng2.store.Read()
	if state.WizardRunning {
		t.Error("stale install flag should be cleared once the lock is held")
	}
}
