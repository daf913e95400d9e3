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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kaspa-aio/kaspa-aio/internal/infra/process"
)

func dockerOKManager() *process.MockManager {
	return &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("28.0.0"), nil
		},
	}
}

func TestCheckDocker_OK(t *testing.T) {
	v, err := NewDefaultInfrastructureValidator(dockerOKManager(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}

	if err := v.CheckDocker(t.Context()); err != nil {
		t.Errorf("CheckDocker failed: %v", err)
	}
}

func TestCheckDocker_DaemonDown(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("Cannot connect to the Docker daemon")
		},
	}
	v, _ := NewDefaultInfrastructureValidator(proc, t.TempDir(), "")

	err := v.CheckDocker(t.Context())
	if err == nil {
		t.Fatal("CheckDocker should fail when the daemon is down")
	}

	// The error carries its category from the point of failure.
	var installErr *InstallError
	if !errors.As(err, &installErr) {
		t.Fatalf("error should be an InstallError, got %T", err)
	}
	if installErr.Category != CategoryDockerNotRunning {
		t.Errorf("category = %s, want docker_not_running", installErr.Category)
	}
	if installErr.Stage != StageInit {
		t.Errorf("stage = %s, want init", installErr.Stage)
	}
}

func TestValidate_DiskSpaceCheck(t *testing.T) {
	v, _ := NewDefaultInfrastructureValidator(dockerOKManager(), t.TempDir(), "")

	results := v.Validate(t.Context(), mustResolve(t, "core"))

	var disk *InfraCheckResult
	for i := range results {
		if results[i].Name == "disk-space" {
			disk = &results[i]
		}
	}
	if disk == nil {
		t.Fatal("disk-space check missing")
	}
	// Either outcome is environment-dependent, but the message always
	// reports the free space or the failure reason.
	if disk.Message == "" {
		t.Error("disk-space check should carry a message")
	}
}

func TestValidate_RESTEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	v, _ := NewDefaultInfrastructureValidator(dockerOKManager(), t.TempDir(), server.URL)

	results := v.Validate(t.Context(), mustResolve(t, "core"))

	found := false
	for _, r := range results {
		if r.Name == "rest-endpoint" {
			found = true
			if !r.Passed {
				t.Errorf("rest-endpoint should pass, message: %s", r.Message)
			}
		}
	}
	if !found {
		t.Error("rest-endpoint check missing")
	}
}

func TestValidate_RESTEndpointDown(t *testing.T) {
	// Port from a server that is already closed.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	v, _ := NewDefaultInfrastructureValidator(dockerOKManager(), t.TempDir(), url)

	results := v.Validate(t.Context(), mustResolve(t, "core"))
	for _, r := range results {
		if r.Name == "rest-endpoint" {
			if r.Passed {
				t.Error("unreachable REST server should fail the check")
			}
			if !strings.Contains(r.Message, "unreachable") {
				t.Errorf("message = %q", r.Message)
			}
		}
	}
}

func TestSummary(t *testing.T) {
	v, _ := NewDefaultInfrastructureValidator(dockerOKManager(), t.TempDir(), "")

	allPass := []InfraCheckResult{{Name: "a", Passed: true}, {Name: "b", Passed: true}}
	if got := v.Summary(allPass); !strings.Contains(got, "all 2") {
		t.Errorf("summary = %q", got)
	}

	mixed := []InfraCheckResult{{Name: "a", Passed: true}, {Name: "b", Passed: false}}
	got := v.Summary(mixed)
	if !strings.Contains(got, "1/2") || !strings.Contains(got, "b") {
		t.Errorf("summary should name failing checks, got %q", got)
	}
}
