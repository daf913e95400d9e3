// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kaspa-aio/kaspa-aio/internal/infra/process"
)

// newTestExecutor builds an executor over a MockManager whose RunInDir
// succeeds with empty output unless the test overrides it.
func newTestExecutor(t *testing.T, cfg Config, proc *process.MockManager) *DefaultExecutor {
	t.Helper()

	if cfg.DeployDir == "" {
		cfg.DeployDir = "/deploy"
	}
	if proc.RunInDirFunc == nil {
		proc.RunInDirFunc = func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			return "", "", 0, nil
		}
	}

	e, err := NewDefaultExecutor(cfg, proc)
	if err != nil {
		t.Fatalf("NewDefaultExecutor failed: %v", err)
	}
	// Pretend every compose file exists so tests control layering via config.
	e.osStatFunc = func(string) (os.FileInfo, error) { return nil, nil }
	return e
}

func TestNewDefaultExecutor_Validation(t *testing.T) {
	_, err := NewDefaultExecutor(Config{}, &process.MockManager{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing DeployDir should return ErrInvalidConfig, got %v", err)
	}

	_, err = NewDefaultExecutor(Config{DeployDir: "/deploy"}, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil process manager should return ErrInvalidConfig, got %v", err)
	}
}

func TestNewDefaultExecutor_Defaults(t *testing.T) {
	e, err := NewDefaultExecutor(Config{DeployDir: "/deploy"}, &process.MockManager{})
	if err != nil {
		t.Fatal(err)
	}

	if e.config.ProjectName != "kaspa-aio" {
		t.Errorf("default ProjectName = %q", e.config.ProjectName)
	}
	if e.config.BaseFile != "docker-compose.yml" {
		t.Errorf("default BaseFile = %q", e.config.BaseFile)
	}
	if e.config.ContainerNamePrefix != "kaspa-" {
		t.Errorf("default ContainerNamePrefix = %q", e.config.ContainerNamePrefix)
	}
	if e.config.DefaultTimeout != 10*time.Minute {
		t.Errorf("default DefaultTimeout = %v", e.config.DefaultTimeout)
	}
}

func TestPull_BuildsCommand(t *testing.T) {
	proc := &process.MockManager{}
	e := newTestExecutor(t, Config{DeployDir: "/deploy"}, proc)

	result, err := e.Pull(t.Context(), PullOptions{Service: "kaspa-node"})
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if !result.Success {
		t.Error("result should be successful")
	}

	calls := proc.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	args := strings.Join(calls[0].Args, " ")
	if !strings.Contains(args, "compose -p kaspa-aio") {
		t.Errorf("command should use the compose project, got: %s", args)
	}
	if !strings.Contains(args, "pull kaspa-node") {
		t.Errorf("command should pull the named service, got: %s", args)
	}
	if calls[0].Dir != "/deploy" {
		t.Errorf("compose should run in the deploy dir, got %s", calls[0].Dir)
	}
}

func TestPull_UnknownService(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			return "", "no such service: bogus", 1, nil
		},
	}
	e := newTestExecutor(t, Config{}, proc)

	_, err := e.Pull(t.Context(), PullOptions{Service: "bogus"})
	if !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("unknown service should map to ErrServiceNotFound, got %v", err)
	}
}

func TestPull_RunsConcurrently(t *testing.T) {
	// Only up and down are serialized; two pulls must be able to be in
	// flight at the same time. Each subprocess blocks until both have
	// started, so serialized pulls would deadlock into the timeout.
	both := make(chan struct{})
	var entered atomic.Int64
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			if entered.Add(1) == 2 {
				close(both)
			}
			select {
			case <-both:
				return "", "", 0, nil
			case <-time.After(2 * time.Second):
				return "", "", 1, errors.New("second pull never started")
			}
		},
	}
	e := newTestExecutor(t, Config{}, proc)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, svc := range []string{"kaspa-node", "kaspa-db"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Pull(t.Context(), PullOptions{Service: svc})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("pull %d failed: %v", i, err)
		}
	}
}

func TestBuild_BuildsCommand(t *testing.T) {
	proc := &process.MockManager{}
	e := newTestExecutor(t, Config{}, proc)

	_, err := e.Build(t.Context(), BuildOptions{Services: []string{"dashboard"}, NoCache: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	args := strings.Join(proc.GetCalls()[0].Args, " ")
	if !strings.Contains(args, "build --no-cache dashboard") {
		t.Errorf("unexpected build command: %s", args)
	}
}

func TestUp_InjectsEnvAndFlags(t *testing.T) {
	proc := &process.MockManager{}
	e := newTestExecutor(t, Config{}, proc)

	env := map[string]string{"KASPA_NETWORK": "mainnet"}
	_, err := e.Up(t.Context(), UpOptions{
		Services:      []string{"kaspa-node"},
		Env:           env,
		RemoveOrphans: true,
	})
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	call := proc.GetCalls()[0]
	args := strings.Join(call.Args, " ")
	if !strings.Contains(args, "up -d --remove-orphans kaspa-node") {
		t.Errorf("unexpected up command: %s", args)
	}
	if call.Env["KASPA_NETWORK"] != "mainnet" {
		t.Errorf("env should be passed through, got %v", call.Env)
	}
}

func TestUp_RejectsInvalidEnvKeys(t *testing.T) {
	proc := &process.MockManager{}
	e := newTestExecutor(t, Config{}, proc)

	tests := []string{"", "1BAD", "BAD-KEY", "BAD KEY", "$(rm -rf)"}
	for _, key := range tests {
		_, err := e.Up(t.Context(), UpOptions{Env: map[string]string{key: "x"}})
		if !errors.Is(err, ErrInvalidEnvVar) {
			t.Errorf("key %q should be rejected, got %v", key, err)
		}
	}

	if len(proc.GetCalls()) != 0 {
		t.Error("no command should run when env validation fails")
	}
}

func TestDown_Flags(t *testing.T) {
	proc := &process.MockManager{}
	e := newTestExecutor(t, Config{}, proc)

	_, err := e.Down(t.Context(), DownOptions{
		RemoveOrphans: true,
		RemoveVolumes: true,
		Timeout:       30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Down failed: %v", err)
	}

	args := strings.Join(proc.GetCalls()[0].Args, " ")
	if !strings.Contains(args, "down --remove-orphans -v -t 30") {
		t.Errorf("unexpected down command: %s", args)
	}
}

func TestRunCompose_NonZeroExit(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			return "", "port is already allocated", 1, nil
		},
	}
	e := newTestExecutor(t, Config{}, proc)

	result, err := e.Up(t.Context(), UpOptions{})
	if err == nil {
		t.Fatal("non-zero exit should return an error")
	}
	if result == nil {
		t.Fatal("result should be returned even on failure")
	}
	if result.Success {
		t.Error("result.Success should be false")
	}
	if result.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", result.ExitCode)
	}
	if !strings.Contains(err.Error(), "port is already allocated") {
		t.Errorf("error should carry stderr, got: %v", err)
	}
}

func TestStatus_ParsesDockerPS(t *testing.T) {
	// docker ps --format json emits one object per line.
	psOutput := `{"Names":"kaspa-aio-kaspa-node-1","State":"running","Status":"Up 2 hours (healthy)","Image":"supertypo/rusty-kaspad:latest","Ports":"0.0.0.0:16110->16110/tcp"}
{"Names":"kaspa-aio-kaspa-db-1","State":"exited","Status":"Exited (1) 5 minutes ago","Image":"postgres:16-alpine","Ports":""}
{"Names":"kaspa-aio-kaspa-indexer-1","State":"running","Status":"Up 2 hours (unhealthy)","Image":"supertypo/simply-kaspa-indexer:latest","Ports":""}`

	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			return psOutput, "", 0, nil
		},
	}
	e := newTestExecutor(t, Config{}, proc)

	status, err := e.Status(t.Context())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if len(status.Services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(status.Services))
	}
	if status.Running != 2 || status.Stopped != 1 || status.Unhealthy != 1 {
		t.Errorf("counts = running:%d stopped:%d unhealthy:%d",
			status.Running, status.Stopped, status.Unhealthy)
	}

	node := status.Services[0]
	if node.Name != "kaspa-node" {
		t.Errorf("service name = %q, want kaspa-node", node.Name)
	}
	if node.Healthy == nil || !*node.Healthy {
		t.Error("node should be healthy")
	}
	if len(node.Ports) != 1 || node.Ports[0].HostPort != 16110 {
		t.Errorf("ports = %+v", node.Ports)
	}

	db := status.Services[1]
	if db.Healthy != nil {
		t.Error("db without healthcheck should have nil Healthy")
	}

	indexer := status.Services[2]
	if indexer.Healthy == nil || *indexer.Healthy {
		t.Error("indexer should be unhealthy")
	}
}

func TestStatus_EmptyOutput(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			return "", "", 0, nil
		},
	}
	e := newTestExecutor(t, Config{}, proc)

	status, err := e.Status(t.Context())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status.Services) != 0 {
		t.Errorf("expected no services, got %d", len(status.Services))
	}
}

func TestGetComposeFiles_Layering(t *testing.T) {
	e, err := NewDefaultExecutor(Config{
		DeployDir:    "/deploy",
		OverlayFiles: []string{"docker-compose.indexer.yml", "docker-compose.archive.yml"},
	}, &process.MockManager{})
	if err != nil {
		t.Fatal(err)
	}

	// Only the indexer overlay exists on disk.
	e.osStatFunc = func(path string) (os.FileInfo, error) {
		if strings.HasSuffix(path, "indexer.yml") {
			return nil, nil
		}
		return nil, os.ErrNotExist
	}

	files := e.GetComposeFiles()
	if len(files) != 2 {
		t.Fatalf("expected base + existing overlay, got %v", files)
	}
	if files[0] != "/deploy/docker-compose.yml" {
		t.Errorf("base file should come first, got %s", files[0])
	}
	if !strings.HasSuffix(files[1], "indexer.yml") {
		t.Errorf("missing overlay should be skipped, got %s", files[1])
	}
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		input string
		want  int // number of mappings
	}{
		{"0.0.0.0:16110->16110/tcp", 1},
		{"0.0.0.0:16110->16110/tcp, :::16110->16110/tcp", 2},
		{"16110/tcp", 0}, // unpublished port
		{"", 0},
	}

	for _, tt := range tests {
		got := parsePorts(tt.input)
		if len(got) != tt.want {
			t.Errorf("parsePorts(%q) = %d mappings, want %d", tt.input, len(got), tt.want)
		}
	}

	m := parsePorts("127.0.0.1:8080->80/tcp")
	if m[0].HostIP != "127.0.0.1" || m[0].HostPort != 8080 || m[0].ContainerPort != 80 || m[0].Protocol != "tcp" {
		t.Errorf("mapping = %+v", m[0])
	}
}

func TestExtractServiceName(t *testing.T) {
	e, _ := NewDefaultExecutor(Config{DeployDir: "/deploy"}, &process.MockManager{})

	tests := []struct {
		container string
		want      string
	}{
		{"kaspa-aio-kaspa-node-1", "kaspa-node"},
		{"kaspa-aio-kaspa-rest-server-1", "kaspa-rest-server"},
		{"kaspa-db-2", "db"},
		{"standalone", "standalone"},
	}

	for _, tt := range tests {
		if got := e.extractServiceName(tt.container); got != tt.want {
			t.Errorf("extractServiceName(%q) = %q, want %q", tt.container, got, tt.want)
		}
	}
}
