// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaspa-aio/kaspa-aio/cmd/kaspa-aio/config"
	"github.com/kaspa-aio/kaspa-aio/internal/infra/compose"
	"github.com/kaspa-aio/kaspa-aio/internal/infra/process"
	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// engine bundles the wired installation engine for the CLI commands.
type engine struct {
	log        *logging.Logger
	store      wizard.StateStore
	bus        *wizard.EventBus
	manager    *wizard.InstallManager
	supervisor *wizard.TaskSupervisor
	executor   compose.Executor
	lock       *process.InstallLock
}

// newEngine wires the installation engine from configuration.
//
// # Description
//
// Creates the full dependency graph: process manager, compose
// executors, state store, classifier, health and infrastructure
// validators, event bus, install manager, and task supervisor.
// Construction never mutates persisted state: stale-flag recovery is
// deferred to acquireLock, so a read-only command cannot clear a flag
// that belongs to a live install in another process.
func newEngine(cfg config.KaspaAIOConfig) (*engine, error) {
	log := logging.New(logging.Config{
		Level:   parseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "kaspa-aio",
	})

	if err := os.MkdirAll(cfg.Deploy.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create deploy directory: %w", err)
	}

	proc := process.NewDefaultManager()

	store, err := wizard.NewFileStateStore(
		filepath.Join(cfg.Deploy.Dir, "installation-state.json"), log)
	if err != nil {
		return nil, err
	}

	executorFactory := func(overlays []string) (compose.Executor, error) {
		return compose.NewDefaultExecutor(compose.Config{
			DeployDir:    cfg.Deploy.Dir,
			OverlayFiles: overlays,
		}, proc)
	}

	// Base executor without overlays for status and teardown paths;
	// docker ps filtering does not depend on overlay files.
	baseExecutor, err := executorFactory(nil)
	if err != nil {
		return nil, err
	}

	generator, err := wizard.NewDefaultConfigGenerator(cfg.Deploy.Dir)
	if err != nil {
		return nil, err
	}

	health, err := wizard.NewDefaultHealthChecker(baseExecutor)
	if err != nil {
		return nil, err
	}

	infra, err := wizard.NewDefaultInfrastructureValidator(proc, cfg.Deploy.Dir, cfg.Deploy.RestURL)
	if err != nil {
		return nil, err
	}

	classifier := wizard.NewDefaultClassifier(log)
	bus := wizard.NewEventBus()

	manager, err := wizard.NewInstallManager(wizard.InstallManagerOptions{
		Store:      store,
		Resolver:   wizard.NewDefaultProfileResolver(),
		Generator:  generator,
		Executors:  executorFactory,
		Health:     health,
		Infra:      infra,
		Classifier: classifier,
		Bus:        bus,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}

	// Port conflicts can be auto-remediated by moving the configured
	// port to a nearby free one.
	classifier.SetPortRewriter(func(ctx context.Context, oldPort int) (int, error) {
		return generator.FindFreePort(oldPort)
	})

	supervisor, err := wizard.NewTaskSupervisor(bus,
		wizard.NewMetricSourceFactory(cfg.Deploy.RestURL), log)
	if err != nil {
		return nil, err
	}

	lock := process.NewInstallLock(process.InstallLockConfig{
		LockDir:  filepath.Dir(cfg.Deploy.Dir),
		LockName: "kaspa-aio",
	})

	return &engine{
		log:        log,
		store:      store,
		bus:        bus,
		manager:    manager,
		supervisor: supervisor,
		executor:   baseExecutor,
		lock:       lock,
	}, nil
}

// acquireLock takes the process-level install lock and only then
// clears any stale wizardRunning flag. A flag is provably stale once
// we hold the lock: the flock dies with its owning process, so a live
// install elsewhere would have made Acquire fail.
func (e *engine) acquireLock() error {
	if err := e.lock.Acquire(); err != nil {
		return err
	}
	recovered, err := e.store.RecoverStale()
	if err != nil {
		if rerr := e.lock.Release(); rerr != nil {
			e.log.Warn("failed to release install lock", "error", rerr)
		}
		return err
	}
	if recovered {
		e.log.Warn("cleared a stale install flag from a previous run")
	}
	return nil
}

// close releases engine resources in reverse dependency order.
func (e *engine) close() {
	e.supervisor.Close()
	if err := e.store.Close(); err != nil {
		e.log.Warn("failed to close state store", "error", err)
	}
	_ = e.log.Close()
}

// parseLevel maps the config string to a logging level.
func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
