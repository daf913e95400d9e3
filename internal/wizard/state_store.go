// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrInstallInProgress is returned when an install is attempted
	// while another one holds the wizardRunning mutex.
	ErrInstallInProgress = errors.New("an installation is already in progress")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("state store is closed")
)

// =============================================================================
// Interface Definition
// =============================================================================

// StateStore owns the persisted InstallationState document.
//
// # Description
//
// All reads and mutations funnel through a single writer goroutine, so
// concurrent callers never race on the document and every mutation is
// serialized. Writes replace the file atomically (temp file + rename),
// so a concurrent reader of the file never observes a partial document.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type StateStore interface {
	// Read returns a copy of the current state. Never returns nil on
	// success: a missing file yields a fresh idle state.
	Read() (*InstallationState, error)

	// Write replaces the entire state document and persists it.
	Write(state *InstallationState) error

	// Update applies fn to the current state and persists the result.
	// The read-modify-write cycle is atomic with respect to other
	// Update/Write/BeginInstall calls.
	Update(fn func(*InstallationState)) error

	// BeginInstall atomically checks the wizardRunning mutex and, if
	// clear, sets it together with the install's profiles, config, and
	// phase. Returns ErrInstallInProgress when another install holds it.
	BeginInstall(profiles []string, config *InstallConfig) error

	// FinishInstall clears wizardRunning and records the terminal
	// phase. Call with PhaseComplete or PhaseError.
	FinishInstall(phase Phase, services []ServiceRecord, summary ServiceSummary) error

	// RecoverStale clears a wizardRunning flag left behind by a
	// crashed process. Returns true if a stale flag was cleared.
	RecoverStale() (bool, error)

	// Close stops the writer goroutine. Further calls fail with
	// ErrStoreClosed.
	Close() error
}

// =============================================================================
// File-Backed Implementation
// =============================================================================

// FileStateStore implements StateStore over a JSON file.
//
// # Description
//
// A single goroutine owns the document; public methods submit closures
// to it over a command channel and wait for the result. This replaces
// ad-hoc read-modify-write from multiple call sites with a single
// writer, which is what makes the wizardRunning check-and-set safe.
type FileStateStore struct {
	path   string
	log    *logging.Logger
	cmds   chan func(*InstallationState) error
	done   chan struct{}
	closed chan struct{}
}

// NewFileStateStore creates a store backed by the given file path and
// starts its writer goroutine.
//
// # Example
//
//	store, err := wizard.NewFileStateStore(
//	    filepath.Join(deployDir, "installation-state.json"), logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func NewFileStateStore(path string, log *logging.Logger) (*FileStateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if log == nil {
		log = logging.Default()
	}

	state, err := loadStateFile(path)
	if err != nil {
		return nil, err
	}

	s := &FileStateStore{
		path:   path,
		log:    log,
		cmds:   make(chan func(*InstallationState) error),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	go s.run(state)

	return s, nil
}

// run is the writer goroutine. It owns the in-memory document; every
// command mutates (or reads) it and nothing else touches it.
func (s *FileStateStore) run(state *InstallationState) {
	defer close(s.closed)
	for {
		select {
		case cmd := <-s.cmds:
			// Errors are returned to the caller through the closure.
			_ = cmd(state)
		case <-s.done:
			return
		}
	}
}

// submit runs fn on the writer goroutine and returns its error.
func (s *FileStateStore) submit(fn func(*InstallationState) error) error {
	result := make(chan error, 1)
	wrapped := func(state *InstallationState) error {
		err := fn(state)
		result <- err
		return err
	}

	select {
	case s.cmds <- wrapped:
		return <-result
	case <-s.done:
		return ErrStoreClosed
	}
}

// Read returns a copy of the current state.
func (s *FileStateStore) Read() (*InstallationState, error) {
	var snapshot *InstallationState
	err := s.submit(func(state *InstallationState) error {
		snapshot = cloneState(state)
		return nil
	})
	return snapshot, err
}

// Write replaces the entire state document and persists it.
func (s *FileStateStore) Write(newState *InstallationState) error {
	return s.submit(func(state *InstallationState) error {
		*state = *cloneState(newState)
		state.LastModified = time.Now().UTC()
		return s.persist(state)
	})
}

// Update applies fn to the current state and persists the result.
func (s *FileStateStore) Update(fn func(*InstallationState)) error {
	return s.submit(func(state *InstallationState) error {
		fn(state)
		state.LastModified = time.Now().UTC()
		return s.persist(state)
	})
}

// BeginInstall atomically acquires the wizardRunning mutex.
func (s *FileStateStore) BeginInstall(profiles []string, config *InstallConfig) error {
	return s.submit(func(state *InstallationState) error {
		if state.WizardRunning {
			return ErrInstallInProgress
		}

		state.WizardRunning = true
		state.Phase = PhaseInstalling
		state.Profiles = append([]string(nil), profiles...)
		state.Configuration = config
		state.LastModified = time.Now().UTC()

		return s.persist(state)
	})
}

// FinishInstall clears wizardRunning and records the terminal phase.
func (s *FileStateStore) FinishInstall(phase Phase, services []ServiceRecord, summary ServiceSummary) error {
	return s.submit(func(state *InstallationState) error {
		state.WizardRunning = false
		state.Phase = phase
		if services != nil {
			state.Services = services
			state.Summary = summary
		}
		if phase == PhaseComplete {
			now := time.Now().UTC()
			state.InstalledAt = &now
		}
		state.LastModified = time.Now().UTC()

		return s.persist(state)
	})
}

// RecoverStale clears a wizardRunning flag left behind by a crash.
//
// The caller is responsible for establishing that no installer is
// actually alive (by holding the process lock) before calling this.
func (s *FileStateStore) RecoverStale() (bool, error) {
	recovered := false
	err := s.submit(func(state *InstallationState) error {
		if !state.WizardRunning {
			return nil
		}

		s.log.Warn("clearing stale wizardRunning flag from a previous run",
			"state_file", s.path, "last_modified", state.LastModified)

		state.WizardRunning = false
		if state.Phase == PhaseInstalling {
			state.Phase = PhaseError
		}
		state.LastModified = time.Now().UTC()
		recovered = true

		return s.persist(state)
	})
	return recovered, err
}

// Close stops the writer goroutine.
func (s *FileStateStore) Close() error {
	select {
	case <-s.done:
		return nil // Already closed
	default:
	}
	close(s.done)
	<-s.closed
	return nil
}

// Path returns the state file path, for diagnostics.
func (s *FileStateStore) Path() string {
	return s.path
}

// =============================================================================
// Persistence Helpers
// =============================================================================

// persist writes the document atomically: marshal to a temp file in the
// same directory, fsync, then rename over the target.
func (s *FileStateStore) persist(state *InstallationState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal installation state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".installation-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// loadStateFile reads the state document, returning a fresh idle state
// when the file does not exist.
func loadStateFile(path string) (*InstallationState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newIdleState(), nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var state InstallationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if state.Phase == "" {
		state.Phase = PhaseIdle
	}
	if state.Services == nil {
		state.Services = []ServiceRecord{}
	}

	return &state, nil
}

// newIdleState returns the document for a deployment root that has
// never been installed.
func newIdleState() *InstallationState {
	return &InstallationState{
		Phase:        PhaseIdle,
		Profiles:     []string{},
		Services:     []ServiceRecord{},
		LastModified: time.Now().UTC(),
	}
}

// cloneState deep-copies a state document so callers can't mutate the
// actor's copy.
func cloneState(state *InstallationState) *InstallationState {
	clone := *state

	clone.Profiles = append([]string(nil), state.Profiles...)
	clone.Services = append([]ServiceRecord(nil), state.Services...)
	for i, svc := range clone.Services {
		if svc.Healthy != nil {
			h := *svc.Healthy
			clone.Services[i].Healthy = &h
		}
	}
	if state.Configuration != nil {
		cfg := *state.Configuration
		cfg.ExtraNodeArgs = append([]string(nil), state.Configuration.ExtraNodeArgs...)
		clone.Configuration = &cfg
	}
	if state.InstalledAt != nil {
		at := *state.InstalledAt
		clone.InstalledAt = &at
	}

	return &clone
}

// Compile-time interface compliance check.
var _ StateStore = (*FileStateStore)(nil)
