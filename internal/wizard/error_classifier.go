// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// =============================================================================
// Categories
// =============================================================================

// Category is the fixed failure taxonomy for install errors.
type Category string

const (
	CategoryPortConflict     Category = "port_conflict"
	CategoryPermission       Category = "permission_error"
	CategoryResourceLimit    Category = "resource_limit"
	CategoryDiskSpace        Category = "disk_space"
	CategoryDockerNotRunning Category = "docker_not_running"
	CategoryNetwork          Category = "network_error"
	CategoryImageNotFound    Category = "image_not_found"
	CategoryUnknown          Category = "unknown"
)

// Severity ranks how urgent a suggestion is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// =============================================================================
// Typed Install Errors
// =============================================================================

// InstallError is a failure tagged at its point of origin.
//
// # Description
//
// Each pipeline stage wraps its failures in an InstallError carrying
// the stage and, when the failing subsystem knows it, the category.
// This removes the need to re-derive the category from free-text
// messages after the fact; string classification remains only as a
// fallback for errors that reach the classifier untagged.
type InstallError struct {
	// Stage is where the failure occurred.
	Stage Stage

	// Category is the failure taxonomy entry, CategoryUnknown when the
	// origin couldn't determine it.
	Category Category

	// Service names the failing service, when one is identifiable.
	Service string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap supports errors.Is / errors.As chains.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// NewInstallError tags an error with its stage and category.
func NewInstallError(stage Stage, category Category, service string, err error) *InstallError {
	return &InstallError{Stage: stage, Category: category, Service: service, Err: err}
}

// =============================================================================
// Suggestions
// =============================================================================

// Suggestion is one remediation step for a classified failure.
//
// Suggestions are produced per failure instance and never persisted.
type Suggestion struct {
	// Category is the failure category this suggestion addresses.
	Category Category `json:"category"`

	// Severity ranks the suggestion.
	Severity Severity `json:"severity"`

	// Description is the human-readable remediation text.
	Description string `json:"description"`

	// Command is a shell command the operator can run, if one applies.
	Command string `json:"command,omitempty"`

	// AutoApply marks suggestions the engine can execute itself.
	// Only safe, idempotent, deployment-root-scoped actions qualify.
	AutoApply bool `json:"autoApply"`

	// Warning flags consequences the operator should know about.
	Warning string `json:"warning,omitempty"`

	// Port carries the conflicting port for auto-appliable port
	// rewrites.
	Port int `json:"port,omitempty"`
}

// =============================================================================
// Classifier Interface
// =============================================================================

// Classifier maps raw failures to categories and remediation steps.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify determines the failure category. Typed InstallErrors
	// keep their origin category; untagged errors fall back to
	// message-pattern matching.
	Classify(err error) Category

	// SuggestionsFor returns remediation steps for a category, ranked
	// by relevance. ctx carries details like the conflicting port.
	SuggestionsFor(category Category, ctx SuggestionContext) []Suggestion

	// Apply executes an auto-appliable suggestion and reports whether
	// a retry is now advisable. Non-auto suggestions are rejected.
	Apply(ctx context.Context, suggestion Suggestion) (retryAdvisable bool, err error)
}

// SuggestionContext carries failure details into suggestion ranking.
type SuggestionContext struct {
	// Stage is the pipeline stage that failed.
	Stage Stage

	// Service is the failing service, when known.
	Service string

	// Port is the conflicting port for port_conflict failures.
	Port int

	// Image is the failing image for image_not_found failures.
	Image string
}

// =============================================================================
// Default Implementation
// =============================================================================

// patternRule maps a lowercase substring of an error message to a
// category. Checked in order; first match wins, so more specific
// patterns come first.
type patternRule struct {
	pattern  string
	category Category
}

// messagePatterns is the fallback classification table for errors that
// arrive without an origin category. The strings come from docker and
// compose CLI output.
var messagePatterns = []patternRule{
	{"port is already allocated", CategoryPortConflict},
	{"address already in use", CategoryPortConflict},
	{"bind: permission denied", CategoryPortConflict},
	{"permission denied", CategoryPermission},
	{"operation not permitted", CategoryPermission},
	{"no space left on device", CategoryDiskSpace},
	{"disk quota exceeded", CategoryDiskSpace},
	{"cannot connect to the docker daemon", CategoryDockerNotRunning},
	{"is the docker daemon running", CategoryDockerNotRunning},
	{"docker daemon is not running", CategoryDockerNotRunning},
	{"manifest unknown", CategoryImageNotFound},
	{"manifest for", CategoryImageNotFound},
	{"pull access denied", CategoryImageNotFound},
	{"repository does not exist", CategoryImageNotFound},
	{"not found: manifest", CategoryImageNotFound},
	{"cannot allocate memory", CategoryResourceLimit},
	{"too many open files", CategoryResourceLimit},
	{"resource temporarily unavailable", CategoryResourceLimit},
	{"timeout exceeded", CategoryNetwork},
	{"i/o timeout", CategoryNetwork},
	{"tls handshake timeout", CategoryNetwork},
	{"connection refused", CategoryNetwork},
	{"no such host", CategoryNetwork},
	{"network is unreachable", CategoryNetwork},
	{"temporary failure in name resolution", CategoryNetwork},
}

// DefaultClassifier implements Classifier.
type DefaultClassifier struct {
	log *logging.Logger

	// portRewriter, when set, is called by Apply for port_conflict
	// suggestions to move the configured port. Wired to the config
	// layer by the install manager.
	portRewriter func(ctx context.Context, oldPort int) (int, error)
}

// NewDefaultClassifier creates a classifier.
func NewDefaultClassifier(log *logging.Logger) *DefaultClassifier {
	if log == nil {
		log = logging.Default()
	}
	return &DefaultClassifier{log: log}
}

// SetPortRewriter wires the auto-apply action for port conflicts.
func (c *DefaultClassifier) SetPortRewriter(fn func(ctx context.Context, oldPort int) (int, error)) {
	c.portRewriter = fn
}

// Classify determines the failure category.
func (c *DefaultClassifier) Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	// Typed errors carry their category from the point of failure.
	var installErr *InstallError
	if errors.As(err, &installErr) && installErr.Category != CategoryUnknown && installErr.Category != "" {
		return installErr.Category
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range messagePatterns {
		if strings.Contains(msg, rule.pattern) {
			return rule.category
		}
	}

	return CategoryUnknown
}

// SuggestionsFor returns remediation steps for a category.
func (c *DefaultClassifier) SuggestionsFor(category Category, sctx SuggestionContext) []Suggestion {
	switch category {
	case CategoryPortConflict:
		return c.portConflictSuggestions(sctx)
	case CategoryPermission:
		return []Suggestion{
			{
				Category:    category,
				Severity:    SeverityCritical,
				Description: "The current user cannot access the Docker socket. Add the user to the docker group and re-login.",
				Command:     "sudo usermod -aG docker $USER && newgrp docker",
			},
			{
				Category:    category,
				Severity:    SeverityInfo,
				Description: "Check ownership of the deployment directory; files created by a previous sudo run may be root-owned.",
				Command:     "ls -la ~/.kaspa-aio",
			},
		}
	case CategoryResourceLimit:
		return []Suggestion{
			{
				Category:    category,
				Severity:    SeverityCritical,
				Description: "The system is out of memory or file descriptors. Stop unused containers or raise limits before retrying.",
				Command:     "docker stats --no-stream",
			},
		}
	case CategoryDiskSpace:
		return []Suggestion{
			{
				Category:    category,
				Severity:    SeverityCritical,
				Description: "The disk is full. A mainnet node with indexer needs several hundred GB of free space.",
				Command:     "df -h",
			},
			{
				Category:    category,
				Severity:    SeverityWarning,
				Description: "Remove unused Docker images and build cache to reclaim space.",
				Command:     "docker system prune -f",
				Warning:     "Removes all dangling images and stopped containers, not just Kaspa ones.",
			},
		}
	case CategoryDockerNotRunning:
		return []Suggestion{
			{
				Category:    category,
				Severity:    SeverityCritical,
				Description: "The Docker daemon is not running. Start it and retry the installation.",
				Command:     "sudo systemctl start docker",
			},
			{
				Category:    category,
				Severity:    SeverityInfo,
				Description: "On Docker Desktop, make sure the application is running before installing.",
			},
		}
	case CategoryNetwork:
		return []Suggestion{
			{
				Category:    category,
				Severity:    SeverityWarning,
				Description: "A network operation timed out. Check connectivity to the registry and retry; pulls resume from cached layers.",
				Command:     "curl -fsS https://registry-1.docker.io/v2/",
			},
		}
	case CategoryImageNotFound:
		desc := "A required image could not be found in the registry."
		if sctx.Image != "" {
			desc = fmt.Sprintf("Image %q could not be found in the registry.", sctx.Image)
		}
		return []Suggestion{
			{
				Category:    category,
				Severity:    SeverityCritical,
				Description: desc + " Verify the image tag in the generated compose file.",
			},
		}
	default:
		return []Suggestion{
			{
				Category:    CategoryUnknown,
				Severity:    SeverityInfo,
				Description: "Inspect the container logs for the failing stage to find the root cause.",
				Command:     "docker compose logs --tail 100",
			},
		}
	}
}

// portConflictSuggestions builds the ranked list for a port conflict,
// including the auto-appliable port rewrite when the port is known.
func (c *DefaultClassifier) portConflictSuggestions(sctx SuggestionContext) []Suggestion {
	suggestions := []Suggestion{}

	if sctx.Port > 0 {
		suggestions = append(suggestions, Suggestion{
			Category:    CategoryPortConflict,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("Port %d is already in use. Reassign the service to the next free port and retry.", sctx.Port),
			AutoApply:   true,
			Port:        sctx.Port,
		})
		suggestions = append(suggestions, Suggestion{
			Category:    CategoryPortConflict,
			Severity:    SeverityInfo,
			Description: fmt.Sprintf("Find the process holding port %d and stop it if it is not needed.", sctx.Port),
			Command:     fmt.Sprintf("lsof -i :%d", sctx.Port),
		})
	} else {
		suggestions = append(suggestions, Suggestion{
			Category:    CategoryPortConflict,
			Severity:    SeverityCritical,
			Description: "A configured port is already in use. Choose different ports in the configuration and retry.",
		})
	}

	return suggestions
}

// Apply executes an auto-appliable suggestion.
//
// Only deployment-root-scoped, idempotent actions are executed; for
// everything else this returns an error so the operator stays in
// control.
func (c *DefaultClassifier) Apply(ctx context.Context, suggestion Suggestion) (bool, error) {
	if !suggestion.AutoApply {
		return false, fmt.Errorf("suggestion is advisory only and cannot be auto-applied")
	}

	switch suggestion.Category {
	case CategoryPortConflict:
		if c.portRewriter == nil {
			return false, fmt.Errorf("no port rewriter configured")
		}
		newPort, err := c.portRewriter(ctx, suggestion.Port)
		if err != nil {
			return false, fmt.Errorf("failed to rewrite port: %w", err)
		}
		c.log.Info("auto-applied port rewrite", "new_port", newPort)
		return true, nil
	default:
		return false, fmt.Errorf("no auto-apply action for category %s", suggestion.Category)
	}
}

// Compile-time interface compliance check.
var _ Classifier = (*DefaultClassifier)(nil)
