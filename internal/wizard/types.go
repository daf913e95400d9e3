// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package wizard implements the installation orchestration engine: the
// multi-phase install pipeline, durable installation state, progress
// event fan-out, background sync monitoring, and failure classification.
package wizard

import (
	"time"
)

// =============================================================================
// Installation State
// =============================================================================

// Phase is the top-level lifecycle phase of a deployment.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseConfiguring Phase = "configuring"
	PhaseInstalling  Phase = "installing"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// Stage is a named step inside an active install run.
// Stages occur in fixed order: init, config, pull, build, deploy, validate.
type Stage string

const (
	StageInit     Stage = "init"
	StageConfig   Stage = "config"
	StagePull     Stage = "pull"
	StageBuild    Stage = "build"
	StageDeploy   Stage = "deploy"
	StageValidate Stage = "validate"
)

// InstallationState is the persisted description of a deployment root.
//
// Exactly one document exists per deployment root. It is the single
// source of truth for what was installed and whether an install is
// actively executing (WizardRunning).
type InstallationState struct {
	// Phase is the deployment lifecycle phase.
	Phase Phase `json:"phase"`

	// Profiles are the selected profile identifiers.
	Profiles []string `json:"profiles"`

	// Configuration is the snapshot of resolved settings used for the
	// most recent install (network, ports, flags).
	Configuration *InstallConfig `json:"configuration,omitempty"`

	// Services holds the per-service last-known status summary.
	Services []ServiceRecord `json:"services"`

	// Summary aggregates service counts.
	Summary ServiceSummary `json:"summary"`

	// WizardRunning is true while an install is actively executing.
	// It acts as a cooperative mutex: a second install is rejected
	// while it is set.
	WizardRunning bool `json:"wizardRunning"`

	// InstalledAt is when the last successful install completed.
	InstalledAt *time.Time `json:"installedAt,omitempty"`

	// LastModified is updated on every state write.
	LastModified time.Time `json:"lastModified"`
}

// ServiceRecord is the last-known status of one deployed service.
type ServiceRecord struct {
	// Name is the compose service name.
	Name string `json:"name"`

	// Status is the container state (running, exited, missing, ...).
	Status string `json:"status"`

	// Healthy reflects the container health check, nil when none exists.
	Healthy *bool `json:"healthy,omitempty"`

	// Image is the container image, when known.
	Image string `json:"image,omitempty"`
}

// ServiceSummary aggregates per-service status counts.
type ServiceSummary struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Stopped int `json:"stopped"`
	Missing int `json:"missing"`
}

// =============================================================================
// Install Configuration
// =============================================================================

// InstallConfig is the user-supplied deployment configuration.
//
// Validated by ConfigGenerator.Validate before any side effects occur.
// The validate tags drive struct validation; json tags match the wire
// and persisted representations.
type InstallConfig struct {
	// Network selects the Kaspa network to join.
	Network string `json:"network" validate:"required,oneof=mainnet testnet-10 testnet-11 devnet simnet"`

	// Ports are the host port assignments per concern.
	Ports PortConfig `json:"ports" validate:"required"`

	// ExtraNodeArgs are appended to the node command line verbatim.
	ExtraNodeArgs []string `json:"extraNodeArgs,omitempty"`

	// DataDir overrides the default data directory for chain state.
	DataDir string `json:"dataDir,omitempty"`

	// PostgresPassword is the indexer database password.
	// Generated when empty.
	PostgresPassword string `json:"postgresPassword,omitempty"`

	// ArchiveMode keeps full historical data on the node.
	ArchiveMode bool `json:"archiveMode,omitempty"`
}

// PortConfig holds the host port assignments.
type PortConfig struct {
	RPC       int `json:"rpc" validate:"required,min=1,max=65535"`
	P2P       int `json:"p2p" validate:"required,min=1,max=65535"`
	WRPCBorsh int `json:"wrpcBorsh,omitempty" validate:"omitempty,min=1,max=65535"`
	REST      int `json:"rest,omitempty" validate:"omitempty,min=1,max=65535"`
	Dashboard int `json:"dashboard,omitempty" validate:"omitempty,min=1,max=65535"`
	Postgres  int `json:"postgres,omitempty" validate:"omitempty,min=1,max=65535"`
}

// =============================================================================
// Install Results
// =============================================================================

// PullResult records the outcome of pulling one image.
type PullResult struct {
	Image   string `json:"image"`
	Service string `json:"service"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ValidationReport is the advisory outcome of the validate stage.
//
// Health and infrastructure failures are reported here but never flip
// the pipeline to the error terminal state.
type ValidationReport struct {
	// Services holds the post-deploy health result per service.
	Services []ServiceRecord `json:"services"`

	// Infrastructure holds per-check results from the infrastructure
	// validator (endpoint reachability, disk headroom, ...).
	Infrastructure []InfraCheckResult `json:"infrastructure"`

	// InfrastructureSummary is a one-line human-readable rollup.
	InfrastructureSummary string `json:"infrastructureSummary"`

	// Healthy is true when nothing in the report warrants a warning.
	Healthy bool `json:"healthy"`
}

// InfraCheckResult is the outcome of one infrastructure check.
type InfraCheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// Background Tasks
// =============================================================================

// TaskType identifies what a background task monitors.
type TaskType string

const (
	TaskNodeSync    TaskType = "node-sync"
	TaskIndexerSync TaskType = "indexer-sync"
	TaskGeneric     TaskType = "generic"
)

// TaskStatus is the lifecycle status of a background task.
//
// Once a task leaves running it never re-enters running.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// Task is one background monitoring unit.
type Task struct {
	ID        string            `json:"id"`
	Type      TaskType          `json:"type"`
	Service   string            `json:"service"`
	Status    TaskStatus        `json:"status"`
	Progress  float64           `json:"progress"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TaskSpec describes a task to register.
type TaskSpec struct {
	Type    TaskType       `json:"type"`
	Service string         `json:"service"`
	Config  TaskSpecConfig `json:"config"`
}

// TaskSpecConfig carries per-type monitoring parameters.
type TaskSpecConfig struct {
	// TargetValue is the metric value at which the task completes.
	// Zero means open-ended: progress is reported as a raw counter.
	TargetValue float64 `json:"targetValue,omitempty"`

	// MetricURL overrides the metric endpoint for generic tasks.
	MetricURL string `json:"metricUrl,omitempty"`

	// MetricField names the JSON field to read for generic tasks.
	MetricField string `json:"metricField,omitempty"`

	// PollInterval overrides the supervisor's default interval.
	PollIntervalSeconds int `json:"pollIntervalSeconds,omitempty"`
}

// =============================================================================
// Progress Events
// =============================================================================

// EventType names a progress event delivered over the event bus.
type EventType string

const (
	EventInstallProgress EventType = "install:progress"
	EventInstallComplete EventType = "install:complete"
	EventInstallError    EventType = "install:error"
	EventTaskRegistered  EventType = "task:registered"
	EventTaskProgress    EventType = "task:progress"
	EventTaskCancelled   EventType = "task:cancelled"
	EventTaskError       EventType = "task:error"
)

// Event is one ephemeral progress notification. Events are never
// persisted; late observers catch up from InstallationState and the
// task table instead.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ProgressPayload is the payload of install:progress events.
//
// Within one install run, Progress values are non-decreasing in
// emission order; stage transitions reset to a stage-local baseline.
type ProgressPayload struct {
	Stage    Stage  `json:"stage"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
	Details  any    `json:"details,omitempty"`
}

// CompletePayload is the payload of install:complete events.
type CompletePayload struct {
	Message    string            `json:"message"`
	Validation *ValidationReport `json:"validation,omitempty"`
}

// ErrorPayload is the payload of install:error events.
type ErrorPayload struct {
	Stage                Stage        `json:"stage"`
	Message              string       `json:"message"`
	Error                string       `json:"error"`
	Category             Category     `json:"category"`
	DocumentationLink    string       `json:"documentationLink,omitempty"`
	TroubleshootingSteps []string     `json:"troubleshootingSteps,omitempty"`
	Suggestions          []Suggestion `json:"suggestions,omitempty"`
	PullResults          []PullResult `json:"pullResults,omitempty"`
	FailedService        string       `json:"failedService,omitempty"`
}

// TaskPayload is the payload of task:* events.
type TaskPayload struct {
	TaskID string `json:"taskId"`
	Task   *Task  `json:"task,omitempty"`
	Error  string `json:"error,omitempty"`
}
