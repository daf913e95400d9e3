// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/kaspa-aio/internal/infra/compose"
	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// testEnv wires real wizard components around a mock compose executor.
type testEnv struct {
	router     *gin.Engine
	manager    *wizard.InstallManager
	store      wizard.StateStore
	supervisor *wizard.TaskSupervisor
	bus        *wizard.EventBus
	executor   *compose.MockExecutor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logging.New(logging.Config{Quiet: true})
	dir := t.TempDir()

	executor := &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.Status, error) {
			return &compose.Status{
				Services: []compose.ServiceStatus{
					{Name: "kaspa-node", State: "running"},
					{Name: "kaspa-rest-server", State: "running"},
				},
			}, nil
		},
	}

	store, err := wizard.NewFileStateStore(filepath.Join(dir, "installation-state.json"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	generator, err := wizard.NewDefaultConfigGenerator(dir)
	require.NoError(t, err)

	health, err := wizard.NewDefaultHealthChecker(executor)
	require.NoError(t, err)

	bus := wizard.NewEventBus()

	manager, err := wizard.NewInstallManager(wizard.InstallManagerOptions{
		Store:     store,
		Resolver:  wizard.NewDefaultProfileResolver(),
		Generator: generator,
		Executors: func(overlays []string) (compose.Executor, error) {
			return executor, nil
		},
		Health:     health,
		Infra:      &wizard.MockInfrastructureValidator{},
		Classifier: wizard.NewDefaultClassifier(log),
		Bus:        bus,
		Log:        log,
	})
	require.NoError(t, err)
	manager.SetGraceDelay(time.Millisecond)

	factory := func(spec wizard.TaskSpec) (wizard.MetricSource, error) {
		return staticSource{}, nil
	}
	supervisor, err := wizard.NewTaskSupervisor(bus, factory, log)
	require.NoError(t, err)
	supervisor.SetPollInterval(10 * time.Millisecond)
	t.Cleanup(supervisor.Close)

	router := gin.New()
	router.GET("/health", HealthCheck)
	router.POST("/v1/install", StartInstall(manager, store, log))
	router.GET("/v1/install/state", GetState(store, log))
	router.POST("/v1/install/reset", ResetInstall(manager, log))
	router.POST("/v1/tasks", RegisterTask(supervisor, log))
	router.GET("/v1/tasks", ListTasks(supervisor))
	router.GET("/v1/tasks/:taskId", GetTask(supervisor))
	router.POST("/v1/tasks/:taskId/cancel", CancelTask(supervisor, log))

	return &testEnv{
		router:     router,
		manager:    manager,
		store:      store,
		supervisor: supervisor,
		bus:        bus,
		executor:   executor,
	}
}

// staticSource reports a constant, never-synced metric.
type staticSource struct{}

func (staticSource) Sample(ctx context.Context) (wizard.MetricSample, error) {
	return wizard.MetricSample{Value: 42}, nil
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func installBody() InstallRequestBody {
	return InstallRequestBody{
		Profiles: []string{"core"},
		Config: &wizard.InstallConfig{
			Network: "mainnet",
			Ports:   wizard.PortConfig{RPC: 16110, P2P: 16111},
		},
	}
}

// waitForPhase polls the state until the given phase appears.
func (e *testEnv) waitForPhase(t *testing.T, phase wizard.Phase) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := e.store.Read()
		require.NoError(t, err)
		if state.Phase == phase {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	state, _ := e.store.Read()
	t.Fatalf("never reached phase %s, state: %+v", phase, state)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartInstall_Accepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/install", installBody())
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])

	env.waitForPhase(t, wizard.PhaseComplete)
	assert.NotEmpty(t, env.executor.CallsTo("Up"))
}

func TestStartInstall_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/install", map[string]any{"profiles": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartInstall_ConflictWhileRunning(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.store.BeginInstall([]string{"core"}, installBody().Config))

	rec := env.do(t, http.MethodPost, "/v1/install", installBody())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestGetState(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/install/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state wizard.InstallationState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, wizard.PhaseIdle, state.Phase)
	assert.False(t, state.WizardRunning)
}

func TestResetInstall(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/v1/install", installBody())
	env.waitForPhase(t, wizard.PhaseComplete)

	rec := env.do(t, http.MethodPost, "/v1/install/reset", ResetRequestBody{})
	require.Equal(t, http.StatusOK, rec.Code)

	state, err := env.store.Read()
	require.NoError(t, err)
	assert.Equal(t, wizard.PhaseIdle, state.Phase)
	assert.NotEmpty(t, env.executor.CallsTo("Down"))
}

func TestResetInstall_ConflictWhileRunning(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.store.BeginInstall([]string{"core"}, installBody().Config))

	rec := env.do(t, http.MethodPost, "/v1/install/reset", ResetRequestBody{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tasks", wizard.TaskSpec{
		Type:    wizard.TaskNodeSync,
		Service: "kaspa-node",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var task wizard.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	require.NotEmpty(t, task.ID)

	rec = env.do(t, http.MethodGet, "/v1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Tasks []wizard.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Tasks, 1)

	rec = env.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, wizard.TaskCancelled, task.Status)
}

func TestGetTask_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTask_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tasks/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
