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
	"testing"

	"github.com/kaspa-aio/kaspa-aio/internal/infra/compose"
)

func TestCheckServices_MapsStatus(t *testing.T) {
	healthy := true
	unhealthy := false
	executor := &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.Status, error) {
			return &compose.Status{
				Services: []compose.ServiceStatus{
					{Name: "kaspa-node", State: "running", Healthy: &healthy, Image: "supertypo/rusty-kaspad:latest"},
					{Name: "kaspa-rest-server", State: "exited", Healthy: &unhealthy},
					// kaspa-db deliberately absent: container missing.
					{Name: "kaspa-indexer", State: "running"},
				},
			}, nil
		},
	}

	checker, err := NewDefaultHealthChecker(executor)
	if err != nil {
		t.Fatal(err)
	}

	resolved := mustResolve(t, "indexer")
	records, summary, err := checker.CheckServices(t.Context(), resolved)
	if err != nil {
		t.Fatalf("CheckServices failed: %v", err)
	}

	if len(records) != len(resolved.Services) {
		t.Fatalf("records = %d, want %d", len(records), len(resolved.Services))
	}

	byName := map[string]ServiceRecord{}
	for _, r := range records {
		byName[r.Name] = r
	}

	if byName["kaspa-node"].Status != "running" || byName["kaspa-node"].Healthy == nil || !*byName["kaspa-node"].Healthy {
		t.Errorf("kaspa-node record = %+v", byName["kaspa-node"])
	}
	if byName["kaspa-rest-server"].Status != "exited" {
		t.Errorf("rest server record = %+v", byName["kaspa-rest-server"])
	}
	if byName["kaspa-db"].Status != "missing" {
		t.Errorf("absent container should be missing, got %+v", byName["kaspa-db"])
	}
	if byName["kaspa-indexer"].Healthy != nil {
		t.Error("service without healthcheck should have nil Healthy")
	}

	want := ServiceSummary{Total: 4, Running: 2, Stopped: 1, Missing: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
}

func TestCheckServices_StatusError(t *testing.T) {
	executor := &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.Status, error) {
			return nil, errors.New("cannot connect to the docker daemon")
		},
	}
	checker, _ := NewDefaultHealthChecker(executor)

	_, _, err := checker.CheckServices(t.Context(), mustResolve(t, "core"))
	if err == nil {
		t.Error("status failure should propagate")
	}
}

func TestHealthy(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name    string
		records []ServiceRecord
		want    bool
	}{
		{"all running", []ServiceRecord{{Status: "running"}, {Status: "running", Healthy: &yes}}, true},
		{"one stopped", []ServiceRecord{{Status: "running"}, {Status: "exited"}}, false},
		{"one unhealthy", []ServiceRecord{{Status: "running", Healthy: &no}}, false},
		{"missing", []ServiceRecord{{Status: "missing"}}, false},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		if got := Healthy(tt.records); got != tt.want {
			t.Errorf("%s: Healthy = %v, want %v", tt.name, got, tt.want)
		}
	}
}
