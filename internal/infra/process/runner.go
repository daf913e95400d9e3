// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Description
//
// This interface abstracts all interaction with the operating system's
// process management. Every exec.Command call in the deployment code goes
// through it, so subprocess behavior can be mocked in unit tests. The
// container runtime (docker / docker compose) is only ever reached through
// this boundary.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context; long-running processes are killed
// when the context is cancelled.
type Manager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Description
	//
	// Executes the command and waits for completion. Stderr is captured
	// and folded into the returned error on failure.
	//
	// # Examples
	//
	//	output, err := pm.Run(ctx, "docker", "ps", "--format", "json")
	//	if err != nil {
	//	    return fmt.Errorf("failed to list containers: %w", err)
	//	}
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in a working directory with extra
	// environment variables, returning stdout, stderr, and exit code.
	//
	// # Description
	//
	// This is the workhorse for compose operations, which must run from
	// the deployment root and receive generated environment. The env map
	// is appended to the parent environment. A non-zero exit code is not
	// itself an error; callers decide based on exitCode.
	//
	// # Outputs
	//
	//   - stdout: captured standard output
	//   - stderr: captured standard error
	//   - exitCode: process exit code (-1 if the process never ran)
	//   - err: non-nil for spawn failures or context cancellation
	RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunStreaming executes a command and streams combined output to w
	// until the process exits or the context is cancelled.
	//
	// # Limitations
	//
	//   - Output is not captured; only streamed
	RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	// IsRunning checks if a process matching the pattern exists.
	//
	// # Description
	//
	// Uses pgrep -f on Unix systems. Returns the first matching PID.
	// "No match" is not an error.
	IsRunning(ctx context.Context, pattern string) (bool, int, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
//
// This is the production implementation that executes real processes.
// Use MockManager in tests instead.
type DefaultManager struct{}

// NewDefaultManager creates a Manager that executes real processes.
//
//	pm := process.NewDefaultManager()
//	output, err := pm.Run(ctx, "docker", "version")
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its stdout.
func (pm *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Include stderr in the error for debugging
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// RunInDir executes a command in dir with extra environment variables.
func (pm *DefaultManager) RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The process ran and exited non-zero; not a spawn failure.
			exitCode = exitErr.ExitCode()
			err = nil
		} else {
			exitCode = -1
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
		err = ctxErr
	}

	return stdout.String(), stderr.String(), exitCode, err
}

// RunStreaming executes a command and streams combined output to w.
func (pm *DefaultManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		// Context cancellation ends follow-mode streams; not a failure.
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("streaming command %s failed: %w", name, err)
	}
	return nil
}

// IsRunning checks if a process matching the pattern exists.
func (pm *DefaultManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	output, err := cmd.Output()

	if err != nil {
		// pgrep exits 1 when no processes match - not an error
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("pgrep failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > 0 && lines[0] != "" {
		pid, err := strconv.Atoi(lines[0])
		if err != nil {
			return true, 0, nil // Process found but PID parse failed
		}
		return true, pid, nil
	}

	return false, 0, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it panics.
//
// # Examples
//
//	mock := &process.MockManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "docker" && args[0] == "version" {
//	            return []byte("Docker version 27.0.0"), nil
//	        }
//	        return nil, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDirFunc is called when RunInDir is invoked
	RunInDirFunc func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error)

	// RunStreamingFunc is called when RunStreaming is invoked
	RunStreamingFunc func(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	// IsRunningFunc is called when IsRunning is invoked
	IsRunningFunc func(ctx context.Context, pattern string) (bool, int, error)

	// Calls records all method invocations for verification
	Calls []ManagerCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// ManagerCall records a single method invocation.
type ManagerCall struct {
	Method string
	Name   string
	Dir    string
	Args   []string
	Env    map[string]string
}

// Run delegates to RunFunc and records the call.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(ManagerCall{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunInDir delegates to RunInDirFunc and records the call.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
	m.record(ManagerCall{Method: "RunInDir", Name: name, Dir: dir, Args: args, Env: env})
	if m.RunInDirFunc == nil {
		panic("MockManager.RunInDirFunc not set")
	}
	return m.RunInDirFunc(ctx, dir, env, name, args...)
}

// RunStreaming delegates to RunStreamingFunc and records the call.
func (m *MockManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	m.record(ManagerCall{Method: "RunStreaming", Name: name, Dir: dir, Args: args})
	if m.RunStreamingFunc == nil {
		panic("MockManager.RunStreamingFunc not set")
	}
	return m.RunStreamingFunc(ctx, dir, w, name, args...)
}

// IsRunning delegates to IsRunningFunc and records the call.
func (m *MockManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	m.record(ManagerCall{Method: "IsRunning", Name: pattern})
	if m.IsRunningFunc == nil {
		panic("MockManager.IsRunningFunc not set")
	}
	return m.IsRunningFunc(ctx, pattern)
}

func (m *MockManager) record(call ManagerCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Reset clears all recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []ManagerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ManagerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
