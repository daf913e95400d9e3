// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kaspa-aio/kaspa-aio/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrComposeNotFound is returned when the docker binary is not available.
	ErrComposeNotFound = errors.New("docker compose not found")

	// ErrComposeFileMissing is returned when a required compose file doesn't exist.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrServiceNotFound is returned when a specified service doesn't exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrInvalidConfig is returned when Config is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrInvalidEnvVar is returned when an environment variable key is invalid.
	// This prevents config injection attacks through malformed env var names.
	ErrInvalidEnvVar = errors.New("invalid environment variable")
)

// envVarKeyRegex validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
//
// This prevents shell metacharacter injection and other config attacks.
var envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// =============================================================================
// Interface Definition
// =============================================================================

// Executor manages docker compose operations for the Kaspa stack.
//
// # Description
//
// This interface abstracts all interactions with docker compose, enabling
// testable orchestration of container services. It handles compose file
// layering (base plus per-profile overlays), environment injection, and
// exposes the per-phase operations the installer needs: Pull, Build, Up,
// Down, Status, Logs.
//
// # Security
//
//   - Sanitizes environment variable keys before injection
//   - Does not log sensitive environment values
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Operations that modify
// container state (Up, Down, Pull, Build) are serialized internally.
type Executor interface {
	// Pull downloads the image for one service.
	//
	// # Description
	//
	// Executes `docker compose pull <service>`. The installer calls this
	// per service so it can attribute progress and failures to a specific
	// image instead of one opaque bulk pull.
	//
	// # Example
	//
	//	result, err := executor.Pull(ctx, PullOptions{Service: "kaspa-node"})
	//	if err != nil {
	//	    return fmt.Errorf("pull failed for kaspa-node: %w", err)
	//	}
	Pull(ctx context.Context, opts PullOptions) (*Result, error)

	// Build builds the images for locally-built services.
	//
	// # Description
	//
	// Executes `docker compose build` for the given services. Used for
	// services without a registry image, like the dashboard.
	Build(ctx context.Context, opts BuildOptions) (*Result, error)

	// Up starts services defined in the compose configuration.
	//
	// # Description
	//
	// Executes `docker compose up -d`. Composes files in order: base,
	// then profile overlays. Injects environment variables from the
	// provided map.
	//
	// # Limitations
	//
	//   - Does not verify service health after startup (use HealthChecker)
	//   - Blocks until containers are started, not until healthy
	//
	// # Assumptions
	//
	//   - Docker daemon is running and accessible
	//   - Compose files exist at configured paths
	Up(ctx context.Context, opts UpOptions) (*Result, error)

	// Down stops and removes containers defined in compose configuration.
	//
	// # Description
	//
	// Executes `docker compose down` with optional flags for orphan
	// removal and volume deletion. Containers that are already stopped
	// are not an error.
	//
	// # Limitations
	//
	//   - Volume removal is irreversible
	Down(ctx context.Context, opts DownOptions) (*Result, error)

	// Status returns the current state of the stack's containers.
	//
	// # Description
	//
	// Executes `docker ps -a --format json` filtered by the container
	// name prefix and parses the output into per-service state, health,
	// and port information.
	//
	// # Limitations
	//
	//   - Health status may lag actual container state
	//   - Parsing depends on docker ps --format json output structure
	Status(ctx context.Context) (*Status, error)

	// Logs streams container logs to the provided writer.
	//
	// # Description
	//
	// Executes `docker compose logs` with optional follow mode. Streams
	// to w until the context is cancelled.
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error

	// GetComposeFiles returns the ordered list of compose files in use.
	// Useful for debugging and displaying configuration to users.
	GetComposeFiles() []string
}

// =============================================================================
// Supporting Types
// =============================================================================

// Config provides configuration for compose operations.
type Config struct {
	// DeployDir is the directory containing compose files and the
	// generated .env file. All compose file paths are relative to it.
	DeployDir string

	// ProjectName is the compose project name.
	// Default: "kaspa-aio"
	ProjectName string

	// BaseFile is the primary compose file name.
	// Default: "docker-compose.yml"
	BaseFile string

	// OverlayFiles are additional compose files layered after the base,
	// in order. The installer derives these from the selected profiles.
	OverlayFiles []string

	// ContainerNamePrefix is the prefix for container names.
	// Used for filtering in Status.
	// Default: "kaspa-"
	ContainerNamePrefix string

	// DefaultTimeout is the default timeout for compose operations.
	// Default: 10 minutes (image pulls on slow links take a while)
	DefaultTimeout time.Duration
}

// PullOptions configures the Pull operation.
type PullOptions struct {
	// Service is the compose service whose image to pull.
	// Empty means all services.
	Service string

	// Quiet suppresses pull progress output.
	// Maps to: -q flag
	Quiet bool

	// Timeout overrides the default operation timeout.
	Timeout time.Duration
}

// BuildOptions configures the Build operation.
type BuildOptions struct {
	// Services limits which services to build.
	// Empty means all services with a build section.
	Services []string

	// NoCache rebuilds without using the layer cache.
	NoCache bool

	// Timeout overrides the default operation timeout.
	Timeout time.Duration
}

// UpOptions configures the Up operation.
type UpOptions struct {
	// Services limits which services to start.
	// Empty means all services.
	Services []string

	// Env contains environment variables to inject.
	// These are passed to compose and available to all services.
	Env map[string]string

	// RemoveOrphans removes containers for services not defined.
	RemoveOrphans bool

	// NoStart creates containers without starting them.
	NoStart bool

	// Timeout overrides the default operation timeout.
	Timeout time.Duration
}

// DownOptions configures the Down operation.
type DownOptions struct {
	// RemoveOrphans removes containers for services not in compose file.
	RemoveOrphans bool

	// RemoveVolumes removes named volumes declared in the compose file.
	// WARNING: This is destructive and cannot be undone.
	RemoveVolumes bool

	// Timeout for graceful container shutdown.
	Timeout time.Duration
}

// LogsOptions configures the Logs operation.
type LogsOptions struct {
	// Follow streams logs continuously until context cancellation.
	Follow bool

	// Services limits which services to show logs for.
	Services []string

	// Tail limits output to last N lines per container. Zero means all.
	Tail int

	// Timestamps prepends each line with a timestamp.
	Timestamps bool
}

// Result contains the result of a compose operation.
type Result struct {
	// Success indicates if the operation completed without error.
	Success bool

	// ExitCode is the exit code of the compose command.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string

	// Duration is how long the operation took.
	Duration time.Duration

	// Command is the full command that was executed (for debugging).
	Command string
}

// Status contains the current state of the stack's containers.
type Status struct {
	// Services contains status for each service.
	Services []ServiceStatus

	// Running is the count of running services.
	Running int

	// Stopped is the count of stopped services.
	Stopped int

	// Unhealthy is the count of unhealthy services.
	Unhealthy int
}

// ServiceStatus contains the status of a single service.
type ServiceStatus struct {
	// Name is the compose service name.
	Name string

	// ContainerName is the actual container name.
	ContainerName string

	// State is the container state (running, exited, etc.).
	State string

	// Healthy indicates health check status.
	// nil means no health check defined.
	Healthy *bool

	// Ports contains published port mappings.
	Ports []PortMapping

	// Image is the container image.
	Image string
}

// PortMapping represents a port binding.
type PortMapping struct {
	// HostIP is the host interface (usually 0.0.0.0).
	HostIP string

	// HostPort is the port on the host.
	HostPort int

	// ContainerPort is the port in the container.
	ContainerPort int

	// Protocol is tcp or udp.
	Protocol string
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor using the docker CLI.
type DefaultExecutor struct {
	config     Config
	proc       process.Manager
	osStatFunc func(string) (os.FileInfo, error)

	// lifecycleMu serializes the commands that mutate the running stack
	// (up, down). Pulls and builds only touch the image cache and may
	// run in parallel.
	lifecycleMu sync.Mutex
}

// NewDefaultExecutor creates a new Executor with the given configuration.
//
// # Description
//
// Creates an executor configured for docker compose operations.
// Validates the configuration and sets sensible defaults.
//
// # Example
//
//	executor, err := compose.NewDefaultExecutor(compose.Config{
//	    DeployDir:   "/home/user/.kaspa-aio/deploy",
//	    ProjectName: "kaspa-aio",
//	}, processManager)
//
// # Defaults Applied
//
//   - ProjectName: "kaspa-aio"
//   - BaseFile: "docker-compose.yml"
//   - ContainerNamePrefix: "kaspa-"
//   - DefaultTimeout: 10 minutes
//
// # Limitations
//
//   - Does not verify docker is installed (checked at runtime)
//   - Does not verify DeployDir exists (checked at runtime)
func NewDefaultExecutor(cfg Config, proc process.Manager) (*DefaultExecutor, error) {
	if cfg.DeployDir == "" {
		return nil, fmt.Errorf("%w: DeployDir is required", ErrInvalidConfig)
	}
	if proc == nil {
		return nil, fmt.Errorf("%w: process manager is required", ErrInvalidConfig)
	}

	applyConfigDefaults(&cfg)

	return &DefaultExecutor{
		config:     cfg,
		proc:       proc,
		osStatFunc: os.Stat,
	}, nil
}

// applyConfigDefaults applies default values to empty fields.
func applyConfigDefaults(cfg *Config) {
	if cfg.ProjectName == "" {
		cfg.ProjectName = "kaspa-aio"
	}
	if cfg.BaseFile == "" {
		cfg.BaseFile = "docker-compose.yml"
	}
	if cfg.ContainerNamePrefix == "" {
		cfg.ContainerNamePrefix = "kaspa-"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
}

// =============================================================================
// Interface Implementation
// =============================================================================

// Pull downloads the image for one service.
func (e *DefaultExecutor) Pull(ctx context.Context, opts PullOptions) (*Result, error) {
	args := e.buildComposeFileArgs()
	args = append(args, "pull")

	if opts.Quiet {
		args = append(args, "-q")
	}
	if opts.Service != "" {
		args = append(args, opts.Service)
	}

	timeout := e.resolveTimeout(opts.Timeout)

	result, err := e.runCompose(ctx, args, nil, timeout)
	if err != nil && result != nil && e.isUnknownServiceError(result) {
		return result, fmt.Errorf("%w: %s", ErrServiceNotFound, opts.Service)
	}
	return result, err
}

// Build builds the images for locally-built services.
func (e *DefaultExecutor) Build(ctx context.Context, opts BuildOptions) (*Result, error) {
	args := e.buildComposeFileArgs()
	args = append(args, "build")

	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	timeout := e.resolveTimeout(opts.Timeout)

	return e.runCompose(ctx, args, nil, timeout)
}

// Up starts services defined in the compose configuration.
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	// Validate env vars before proceeding to prevent config injection
	if err := e.validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	args := e.buildComposeFileArgs()
	args = append(args, "up", "-d")

	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.NoStart {
		args = append(args, "--no-start")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	timeout := e.resolveTimeout(opts.Timeout)

	return e.runCompose(ctx, args, opts.Env, timeout)
}

// Down stops and removes containers defined in compose configuration.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	args := e.buildComposeFileArgs()
	args = append(args, "down")

	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.RemoveVolumes {
		args = append(args, "-v")
	}
	if opts.Timeout > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", int(opts.Timeout.Seconds())))
	}

	return e.runCompose(ctx, args, nil, e.config.DefaultTimeout)
}

// Status returns the current state of the stack's containers.
func (e *DefaultExecutor) Status(ctx context.Context) (*Status, error) {
	args := []string{
		"ps",
		"-a",
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
		"--format", "json",
	}

	output, err := e.runDocker(ctx, args, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to get container status: %w", err)
	}

	return e.parseContainerStatus(output.Stdout)
}

// Logs streams container logs to the provided writer.
func (e *DefaultExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := e.buildComposeFileArgs()
	args = append(args, "logs")

	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", opts.Tail))
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	return e.proc.RunStreaming(ctx, e.config.DeployDir, w, "docker", args...)
}

// GetComposeFiles returns the ordered list of compose files in use.
//
// The base file is always included. Overlay files are included only if
// they exist on disk, so a profile whose overlay has not been generated
// yet does not break the command line.
func (e *DefaultExecutor) GetComposeFiles() []string {
	files := []string{}

	basePath := filepath.Join(e.config.DeployDir, e.config.BaseFile)
	files = append(files, basePath)

	for _, overlay := range e.config.OverlayFiles {
		overlayPath := filepath.Join(e.config.DeployDir, overlay)
		if e.fileExists(overlayPath) {
			files = append(files, overlayPath)
		}
	}

	return files
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// buildComposeFileArgs builds the leading args for compose commands:
// the compose subcommand, project name, and -f flags in layering order.
func (e *DefaultExecutor) buildComposeFileArgs() []string {
	args := []string{"compose", "-p", e.config.ProjectName}

	for _, file := range e.GetComposeFiles() {
		args = append(args, "-f", file)
	}

	return args
}

// runCompose executes a docker compose command in the deploy directory.
//
// Creates a child context with the given timeout, runs the command via
// the process manager, and folds exit code plus stderr into the error.
func (e *DefaultExecutor) runCompose(ctx context.Context, args []string, env map[string]string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	cmdStr := fmt.Sprintf("docker %s", strings.Join(args, " "))

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.DeployDir, env, "docker", args...)

	result := &Result{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("compose command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("compose command exited with code %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	return result, nil
}

// runDocker executes a direct docker command (not compose).
// Used for operations like ps that need container-level filtering.
func (e *DefaultExecutor) runDocker(ctx context.Context, args []string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	cmdStr := fmt.Sprintf("docker %s", strings.Join(args, " "))

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, "", nil, "docker", args...)

	result := &Result{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("docker command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("docker command exited with code %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	return result, nil
}

// dockerPSEntry matches one line of docker ps --format json output.
// Docker emits one JSON object per line, not a JSON array.
type dockerPSEntry struct {
	Names  string `json:"Names"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Image  string `json:"Image"`
	Ports  string `json:"Ports"`
}

// parseContainerStatus parses docker ps JSON-lines output to Status.
//
// # Limitations
//
//   - Depends on docker ps --format json output structure
//   - Health status is extracted from the Status string
func (e *DefaultExecutor) parseContainerStatus(jsonOutput string) (*Status, error) {
	status := &Status{
		Services: []ServiceStatus{},
	}

	for _, line := range strings.Split(jsonOutput, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry dockerPSEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse container JSON: %w", err)
		}

		svc := ServiceStatus{
			Name:          e.extractServiceName(entry.Names),
			ContainerName: entry.Names,
			State:         entry.State,
			Image:         entry.Image,
			Healthy:       parseHealthStatus(entry.Status),
			Ports:         parsePorts(entry.Ports),
		}
		status.Services = append(status.Services, svc)

		switch entry.State {
		case "running":
			status.Running++
		case "exited", "stopped", "created", "dead":
			status.Stopped++
		}
		if svc.Healthy != nil && !*svc.Healthy {
			status.Unhealthy++
		}
	}

	return status, nil
}

// parseHealthStatus extracts health status from a docker ps status string
// like "Up 2 hours (healthy)".
//
// Returns nil when the container has no health check.
func parseHealthStatus(statusStr string) *bool {
	if strings.Contains(statusStr, "unhealthy") {
		healthy := false
		return &healthy
	}
	if strings.Contains(statusStr, "healthy") {
		healthy := true
		return &healthy
	}
	return nil
}

// parsePorts parses the Ports column of docker ps output, a comma
// separated list like "0.0.0.0:16110->16110/tcp, :::16110->16110/tcp".
// Entries without a host binding are skipped.
func parsePorts(portsStr string) []PortMapping {
	mappings := []PortMapping{}

	for _, part := range strings.Split(portsStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" || !strings.Contains(part, "->") {
			continue
		}

		var hostIP string
		var hostPort, containerPort int
		var proto string

		arrow := strings.SplitN(part, "->", 2)
		host := arrow[0]
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			hostIP = host[:idx]
			fmt.Sscanf(host[idx+1:], "%d", &hostPort)
		}

		containerSide := strings.SplitN(arrow[1], "/", 2)
		fmt.Sscanf(containerSide[0], "%d", &containerPort)
		if len(containerSide) > 1 {
			proto = containerSide[1]
		}

		if hostPort == 0 || containerPort == 0 {
			continue
		}

		mappings = append(mappings, PortMapping{
			HostIP:        hostIP,
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      proto,
		})
	}

	return mappings
}

// extractServiceName extracts the compose service name from a container
// name following the pattern prefix-servicename-N.
//
//	extractServiceName("kaspa-aio-kaspa-node-1") // "kaspa-node"
func (e *DefaultExecutor) extractServiceName(containerName string) string {
	// Compose prefixes the project name; service names themselves may
	// start with the container prefix (kaspa-node), so trim only one.
	name := containerName
	if strings.HasPrefix(name, e.config.ProjectName+"-") {
		name = strings.TrimPrefix(name, e.config.ProjectName+"-")
	} else {
		name = strings.TrimPrefix(name, e.config.ContainerNamePrefix)
	}

	parts := strings.Split(name, "-")
	if len(parts) > 1 {
		lastPart := parts[len(parts)-1]
		if _, err := fmt.Sscanf(lastPart, "%d", new(int)); err == nil {
			parts = parts[:len(parts)-1]
		}
	}

	return strings.Join(parts, "-")
}

// validateEnvVars checks all env var keys against envVarKeyRegex.
func (e *DefaultExecutor) validateEnvVars(env map[string]string) error {
	for key := range env {
		if !envVarKeyRegex.MatchString(key) {
			return fmt.Errorf("%w: key %q", ErrInvalidEnvVar, key)
		}
	}
	return nil
}

// isUnknownServiceError checks compose stderr for the unknown-service
// message docker compose emits when a service name doesn't exist.
func (e *DefaultExecutor) isUnknownServiceError(result *Result) bool {
	stderr := strings.ToLower(result.Stderr)
	return strings.Contains(stderr, "no such service") ||
		strings.Contains(stderr, "undefined service")
}

// resolveTimeout returns the override if set, the config default otherwise.
func (e *DefaultExecutor) resolveTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return e.config.DefaultTimeout
}

// fileExists checks whether a path exists using the injected stat func.
func (e *DefaultExecutor) fileExists(path string) bool {
	_, err := e.osStatFunc(path)
	return err == nil
}

// Compile-time interface compliance check.
var _ Executor = (*DefaultExecutor)(nil)
