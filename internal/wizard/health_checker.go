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

	"github.com/kaspa-aio/kaspa-aio/internal/infra/compose"
)

// =============================================================================
// Health Checker
// =============================================================================

// HealthChecker determines the post-deploy health of the stack.
//
// # Description
//
// Maps the container runtime's view (docker ps) onto the resolved
// service set. A resolved service with no container at all is reported
// as missing, which catches compose silently skipping a service.
//
// Health results are advisory: the install pipeline reports them in
// the completion payload but never fails because of them.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type HealthChecker interface {
	// CheckServices returns the per-service status and the aggregate
	// summary for every service in the resolved set.
	CheckServices(ctx context.Context, resolved *ResolvedProfiles) ([]ServiceRecord, ServiceSummary, error)
}

// DefaultHealthChecker implements HealthChecker over the compose
// executor's Status call.
type DefaultHealthChecker struct {
	executor compose.Executor
}

// NewDefaultHealthChecker creates a health checker.
func NewDefaultHealthChecker(executor compose.Executor) (*DefaultHealthChecker, error) {
	if executor == nil {
		return nil, fmt.Errorf("compose executor is required")
	}
	return &DefaultHealthChecker{executor: executor}, nil
}

// CheckServices returns the per-service status and summary.
func (h *DefaultHealthChecker) CheckServices(ctx context.Context, resolved *ResolvedProfiles) ([]ServiceRecord, ServiceSummary, error) {
	status, err := h.executor.Status(ctx)
	if err != nil {
		return nil, ServiceSummary{}, fmt.Errorf("failed to query container status: %w", err)
	}

	byName := map[string]compose.ServiceStatus{}
	for _, svc := range status.Services {
		byName[svc.Name] = svc
	}

	records := make([]ServiceRecord, 0, len(resolved.Services))
	summary := ServiceSummary{Total: len(resolved.Services)}

	for _, spec := range resolved.Services {
		found, ok := byName[spec.Name]
		if !ok {
			records = append(records, ServiceRecord{
				Name:   spec.Name,
				Status: "missing",
			})
			summary.Missing++
			continue
		}

		record := ServiceRecord{
			Name:   spec.Name,
			Status: found.State,
			Image:  found.Image,
		}
		if found.Healthy != nil {
			healthy := *found.Healthy
			record.Healthy = &healthy
		}
		records = append(records, record)

		if found.State == "running" {
			summary.Running++
		} else {
			summary.Stopped++
		}
	}

	return records, summary, nil
}

// Healthy reports whether a record set warrants no warnings: every
// service running and no health check failing.
func Healthy(records []ServiceRecord) bool {
	for _, r := range records {
		if r.Status != "running" {
			return false
		}
		if r.Healthy != nil && !*r.Healthy {
			return false
		}
	}
	return true
}

// Compile-time interface compliance check.
var _ HealthChecker = (*DefaultHealthChecker)(nil)
