// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// wsTestEnv serves the events websocket over a real listener.
type wsTestEnv struct {
	*testEnv
	server *httptest.Server
	url    string
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	t.Helper()

	env := newTestEnv(t)
	log := logging.New(logging.Config{Quiet: true})

	router := gin.New()
	router.GET("/v1/events/ws", HandleEventsWebSocket(env.bus, env.supervisor, nil, log))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsTestEnv{
		testEnv: env,
		server:  server,
		url:     "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events/ws",
	}
}

// dial connects and consumes the session_created handshake.
func (e *wsTestEnv) dial(t *testing.T) (*websocket.Conn, string) {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	var hello map[string]string
	require.NoError(t, ws.ReadJSON(&hello))
	require.Equal(t, "session_created", hello["action"])
	require.NotEmpty(t, hello["sessionId"])

	return ws, hello["sessionId"]
}

// readUntil reads messages until match returns true or the deadline
// passes.
func readUntil(t *testing.T, ws *websocket.Conn, match func(raw map[string]json.RawMessage) bool) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var raw map[string]json.RawMessage
		require.NoError(t, ws.ReadJSON(&raw))
		if match(raw) {
			return
		}
	}
}

func TestWebSocket_SessionCreated(t *testing.T) {
	env := newWSTestEnv(t)

	_, sessionID := env.dial(t)
	assert.NotEmpty(t, sessionID)
}

func TestWebSocket_ReceivesSessionScopedEvents(t *testing.T) {
	env := newWSTestEnv(t)

	ws, sessionID := env.dial(t)

	// An event scoped to this session arrives; one for another session
	// does not.
	env.bus.Publish("someone-else", wizard.Event{
		Type:    wizard.EventInstallProgress,
		Payload: wizard.ProgressPayload{Stage: wizard.StageInit, Message: "not yours"},
	})
	env.bus.Publish(sessionID, wizard.Event{
		Type:    wizard.EventInstallProgress,
		Payload: wizard.ProgressPayload{Stage: wizard.StagePull, Message: "yours", Progress: 20},
	})

	readUntil(t, ws, func(raw map[string]json.RawMessage) bool {
		var eventType string
		if err := json.Unmarshal(raw["type"], &eventType); err != nil {
			return false
		}
		if eventType != string(wizard.EventInstallProgress) {
			return false
		}
		var payload wizard.ProgressPayload
		require.NoError(t, json.Unmarshal(raw["payload"], &payload))
		require.NotEqual(t, "not yours", payload.Message)
		return payload.Message == "yours"
	})
}

func TestWebSocket_TaskRegisterAndCancel(t *testing.T) {
	env := newWSTestEnv(t)

	ws, _ := env.dial(t)

	require.NoError(t, ws.WriteJSON(WSRequest{
		Action: "task_register",
		Spec:   &wizard.TaskSpec{Type: wizard.TaskNodeSync, Service: "kaspa-node"},
	}))

	var taskID string
	readUntil(t, ws, func(raw map[string]json.RawMessage) bool {
		var action string
		if raw["action"] == nil {
			return false
		}
		require.NoError(t, json.Unmarshal(raw["action"], &action))
		if action != "task_accepted" {
			return false
		}
		require.NoError(t, json.Unmarshal(raw["taskId"], &taskID))
		return true
	})
	require.NotEmpty(t, taskID)

	// The supervisor is actually monitoring.
	task, err := env.supervisor.Get(taskID)
	require.NoError(t, err)
	assert.Contains(t, []wizard.TaskStatus{wizard.TaskRunning, wizard.TaskCompleted}, task.Status)

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "task_cancel", TaskID: taskID}))
	readUntil(t, ws, func(raw map[string]json.RawMessage) bool {
		var action string
		if raw["action"] == nil {
			return false
		}
		require.NoError(t, json.Unmarshal(raw["action"], &action))
		return action == "task_cancel_accepted"
	})

	task, err = env.supervisor.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, wizard.TaskCancelled, task.Status)
}

func TestWebSocket_UnknownAction(t *testing.T) {
	env := newWSTestEnv(t)

	ws, _ := env.dial(t)

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "bogus"}))
	readUntil(t, ws, func(raw map[string]json.RawMessage) bool {
		var action string
		if raw["action"] == nil {
			return false
		}
		require.NoError(t, json.Unmarshal(raw["action"], &action))
		return action == "error"
	})
}
