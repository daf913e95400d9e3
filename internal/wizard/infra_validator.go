// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/kaspa-aio/kaspa-aio/internal/infra/process"
)

// =============================================================================
// Infrastructure Validator
// =============================================================================

// minFreeDiskBytes is the advisory floor for free space in the deploy
// directory. A pruned mainnet node needs far more; this only catches
// obviously doomed installs.
const minFreeDiskBytes = 10 << 30 // 10 GiB

// InfrastructureValidator runs environment checks around an install.
//
// # Description
//
// Two call sites:
//   - before the pipeline starts, to fail fast when docker itself is
//     unavailable (a fatal precondition), and
//   - after deploy, where failed checks are advisory and end up in
//     the completion payload as warnings.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type InfrastructureValidator interface {
	// CheckDocker verifies the docker daemon and the compose plugin
	// are reachable. This is the fatal precondition check.
	CheckDocker(ctx context.Context) error

	// Validate runs the advisory post-deploy checks for the resolved
	// profile set.
	Validate(ctx context.Context, resolved *ResolvedProfiles) []InfraCheckResult

	// Summary renders a one-line rollup of check results.
	Summary(results []InfraCheckResult) string
}

// DefaultInfrastructureValidator implements InfrastructureValidator.
type DefaultInfrastructureValidator struct {
	proc      process.Manager
	deployDir string
	client    *http.Client

	// restBaseURL is the REST server endpoint probed after deploy.
	restBaseURL string
}

// NewDefaultInfrastructureValidator creates a validator.
//
//	validator, err := wizard.NewDefaultInfrastructureValidator(
//	    procMgr, deployDir, "http://localhost:8000")
func NewDefaultInfrastructureValidator(proc process.Manager, deployDir, restBaseURL string) (*DefaultInfrastructureValidator, error) {
	if proc == nil {
		return nil, fmt.Errorf("process manager is required")
	}
	return &DefaultInfrastructureValidator{
		proc:        proc,
		deployDir:   deployDir,
		restBaseURL: strings.TrimRight(restBaseURL, "/"),
		client:      &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// CheckDocker verifies the docker daemon and compose plugin.
func (v *DefaultInfrastructureValidator) CheckDocker(ctx context.Context) error {
	if _, err := v.proc.Run(ctx, "docker", "version", "--format", "{{.Server.Version}}"); err != nil {
		return NewInstallError(StageInit, CategoryDockerNotRunning, "",
			fmt.Errorf("docker daemon is not reachable: %w", err))
	}
	if _, err := v.proc.Run(ctx, "docker", "compose", "version", "--short"); err != nil {
		return NewInstallError(StageInit, CategoryDockerNotRunning, "",
			fmt.Errorf("docker compose plugin is not available: %w", err))
	}
	return nil
}

// Validate runs the advisory post-deploy checks.
//
// Each check degrades to a failed result rather than an error: the
// caller treats the whole report as advisory.
func (v *DefaultInfrastructureValidator) Validate(ctx context.Context, resolved *ResolvedProfiles) []InfraCheckResult {
	results := []InfraCheckResult{
		v.checkDaemon(ctx),
		v.checkDiskSpace(),
	}

	if v.restBaseURL != "" {
		results = append(results, v.checkRESTEndpoint(ctx))
	}

	return results
}

// checkDaemon reports docker daemon reachability as a check result.
func (v *DefaultInfrastructureValidator) checkDaemon(ctx context.Context) InfraCheckResult {
	if err := v.CheckDocker(ctx); err != nil {
		return InfraCheckResult{
			Name:    "docker-daemon",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return InfraCheckResult{Name: "docker-daemon", Passed: true}
}

// checkDiskSpace verifies free space in the deploy directory.
func (v *DefaultInfrastructureValidator) checkDiskSpace() InfraCheckResult {
	result := InfraCheckResult{Name: "disk-space"}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(v.deployDir, &stat); err != nil {
		result.Message = fmt.Sprintf("could not stat %s: %v", v.deployDir, err)
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeDiskBytes {
		result.Message = fmt.Sprintf("only %d GiB free in %s; a synced node needs much more",
			free>>30, v.deployDir)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%d GiB free", free>>30)
	return result
}

// checkRESTEndpoint probes the deployed REST server.
func (v *DefaultInfrastructureValidator) checkRESTEndpoint(ctx context.Context) InfraCheckResult {
	result := InfraCheckResult{Name: "rest-endpoint"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.restBaseURL+"/info/health", nil)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	resp, err := v.client.Do(req)
	if err != nil {
		result.Message = fmt.Sprintf("REST server unreachable: %v", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		result.Message = fmt.Sprintf("REST server returned %d", resp.StatusCode)
		return result
	}

	result.Passed = true
	return result
}

// Summary renders a one-line rollup of check results.
func (v *DefaultInfrastructureValidator) Summary(results []InfraCheckResult) string {
	passed := 0
	var failed []string
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) == 0 {
		return fmt.Sprintf("all %d infrastructure checks passed", len(results))
	}
	return fmt.Sprintf("%d/%d infrastructure checks passed (failing: %s)",
		passed, len(results), strings.Join(failed, ", "))
}

// =============================================================================
// Mock Implementation for Testing
// =============================================================================

// MockInfrastructureValidator is a test double for
// InfrastructureValidator.
type MockInfrastructureValidator struct {
	CheckDockerFunc func(ctx context.Context) error
	ValidateFunc    func(ctx context.Context, resolved *ResolvedProfiles) []InfraCheckResult
}

// CheckDocker delegates to CheckDockerFunc, passing by default.
func (m *MockInfrastructureValidator) CheckDocker(ctx context.Context) error {
	if m.CheckDockerFunc == nil {
		return nil
	}
	return m.CheckDockerFunc(ctx)
}

// Validate delegates to ValidateFunc, passing by default.
func (m *MockInfrastructureValidator) Validate(ctx context.Context, resolved *ResolvedProfiles) []InfraCheckResult {
	if m.ValidateFunc == nil {
		return []InfraCheckResult{{Name: "mock", Passed: true}}
	}
	return m.ValidateFunc(ctx, resolved)
}

// Summary renders the same rollup as the default implementation.
func (m *MockInfrastructureValidator) Summary(results []InfraCheckResult) string {
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d checks passed", passed, len(results))
}

// Compile-time interface compliance check.
var (
	_ InfrastructureValidator = (*DefaultInfrastructureValidator)(nil)
	_ InfrastructureValidator = (*MockInfrastructureValidator)(nil)
)
