// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// InstallLocker defines the interface for deployment-root locking.
//
// # Description
//
// InstallLocker prevents multiple kaspa-aio processes from mutating the
// same deployment root simultaneously. It also lets a restarting daemon
// distinguish a live installer from a stale wizardRunning flag left by a
// crashed process: if the lock can be acquired, no installer is alive.
//
// # Thread Safety
//
// Implementations must be safe for use from a single goroutine. The lock
// provides inter-process synchronization, not intra-process.
type InstallLocker interface {
	// Acquire attempts to get an exclusive lock.
	// Returns nil if the lock was acquired, an error otherwise.
	Acquire() error

	// Release releases the lock if held.
	// Safe to call multiple times or if the lock was never acquired.
	Release() error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool

	// HolderPID returns the PID of the process holding the lock.
	// Returns 0 if no process holds the lock or it cannot be determined.
	HolderPID() int
}

// InstallLockConfig configures lock file placement.
//
// # Example
//
//	config := InstallLockConfig{
//	    LockDir:  "/home/user/.kaspa-aio",
//	    LockName: "kaspa-aio",
//	}
type InstallLockConfig struct {
	// LockDir is the directory for lock files.
	// Default: system temp directory
	LockDir string

	// LockName is the base name for lock files.
	// Default: "kaspa-aio"
	LockName string
}

// DefaultInstallLockConfig returns sensible defaults: the system temp
// directory and "kaspa-aio" as the lock name.
func DefaultInstallLockConfig() InstallLockConfig {
	return InstallLockConfig{
		LockDir:  os.TempDir(),
		LockName: "kaspa-aio",
	}
}

// InstallLock implements InstallLocker using file-based locking.
//
// # Description
//
// Uses the flock(2) system call for advisory file locking. This prevents
// races like:
//
//   - Terminal A: `kaspa-aio install` (pulling images)
//   - Terminal B: `kaspa-aio install reset` (deleting what A is creating)
//
// # How It Works
//
//  1. Creates a lock file at {LockDir}/{LockName}.lock
//  2. Attempts an exclusive non-blocking flock on the file
//  3. Writes the PID to {LockDir}/{LockName}.pid for debugging
//  4. On release, removes the PID file and releases the flock
//
// # Limitations
//
//   - Advisory lock only - other processes can ignore it
//   - NFS and some network filesystems don't support flock properly
//   - The OS releases the flock if the process crashes, which is what
//     makes stale wizardRunning detection possible after a crash
//
// # Example
//
//	lock := NewInstallLock(DefaultInstallLockConfig())
//	if err := lock.Acquire(); err != nil {
//	    fmt.Fprintf(os.Stderr, "Error: %v\n", err)
//	    os.Exit(1)
//	}
//	defer lock.Release()
type InstallLock struct {
	config   InstallLockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewInstallLock creates a new lock instance. The lock is not acquired
// until Acquire is called.
func NewInstallLock(config InstallLockConfig) *InstallLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "kaspa-aio"
	}

	return &InstallLock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire attempts to get an exclusive lock.
//
// # Description
//
// Uses a non-blocking flock. If another process holds the lock, returns
// immediately with an error naming the holder's PID when available.
//
// # Error Conditions
//
//   - Another kaspa-aio instance is running (error includes holder PID)
//   - Cannot create the lock file (permission denied, disk full)
//   - Cannot acquire flock (system error)
func (p *InstallLock) Acquire() error {
	if p.held {
		return nil // Already held
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", p.lockPath, err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		f.Close()

		if err == syscall.EWOULDBLOCK {
			holderPID := p.readHolderPID()
			if holderPID > 0 {
				return fmt.Errorf("another kaspa-aio instance is running (PID %d). "+
					"If this is stale, remove %s", holderPID, p.pidPath)
			}
			return fmt.Errorf("another kaspa-aio instance is running. "+
				"Check: lsof %s", p.lockPath)
		}

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.lockFile = f
	p.held = true

	// PID file is for debugging only; failure to write it is non-fatal.
	_ = p.writePID()

	return nil
}

// Release releases the lock if held. Safe to call multiple times.
func (p *InstallLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	os.Remove(p.pidPath)

	err := syscall.Flock(int(p.lockFile.Fd()), syscall.LOCK_UN)

	// Close also releases the lock if the explicit unlock failed.
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	// The lock file itself is left in place for faster re-acquires.

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}

// IsHeld returns true if this instance currently holds the lock.
// Checks local state only; does not re-verify the flock.
func (p *InstallLock) IsHeld() bool {
	return p.held
}

// HolderPID returns the PID recorded in the PID file, or 0 if unknown.
// May return a stale PID if the holder crashed without cleanup.
func (p *InstallLock) HolderPID() int {
	return p.readHolderPID()
}

// writePID writes the current process PID to the PID file.
func (p *InstallLock) writePID() error {
	content := fmt.Sprintf("%d\n", os.Getpid())
	return os.WriteFile(p.pidPath, []byte(content), 0644)
}

// readHolderPID reads the PID from the PID file.
func (p *InstallLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return pid
}

// LockPath returns the path to the lock file, for error messages.
func (p *InstallLock) LockPath() string {
	return p.lockPath
}

// PIDPath returns the path to the PID file, for error messages.
func (p *InstallLock) PIDPath() string {
	return p.pidPath
}

// Compile-time interface satisfaction check
var _ InstallLocker = (*InstallLock)(nil)
