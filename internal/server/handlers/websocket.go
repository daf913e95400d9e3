// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kaspa-aio/kaspa-aio/internal/server/observability"
	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

var upgrader = websocket.Upgrader{
	// The server binds to localhost; browser origin checks add nothing
	// for a local-only API.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WSRequest is a client-to-server message on the events websocket.
type WSRequest struct {
	// Action routes the message: "task_register" or "task_cancel".
	Action string `json:"action"`

	// Spec describes the task for task_register.
	Spec *wizard.TaskSpec `json:"spec,omitempty"`

	// TaskID names the task for task_cancel.
	TaskID string `json:"taskId,omitempty"`
}

// wsConn serializes writes to one websocket connection. The event
// pump and the read loop both write, and gorilla connections allow
// only one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// HandleEventsWebSocket is the live event feed.
//
// # Description
//
// On connect the client receives a session_created message carrying
// its session identifier. Passing that identifier in a subsequent
// install request scopes the install's progress events to this
// connection; broadcast events (task updates) arrive regardless.
//
// The client can also drive task management over the same socket with
// task_register and task_cancel actions.
func HandleEventsWebSocket(bus *wizard.EventBus, sup *wizard.TaskSupervisor,
	metrics *observability.Metrics, log *logging.Logger) gin.HandlerFunc {

	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("failed to upgrade websocket", "error", err)
			return
		}
		defer ws.Close()

		conn := &wsConn{ws: ws}
		sessionID := uuid.New().String()
		log.Info("event observer connected", "session", sessionID)

		if err := conn.sendJSON(gin.H{
			"action":    "session_created",
			"sessionId": sessionID,
		}); err != nil {
			return
		}

		sub := bus.Subscribe(sessionID)
		defer sub.Unsubscribe()

		if metrics != nil {
			metrics.ObserverConnected()
			defer metrics.ObserverDisconnected()
		}

		// Pump bus events to the socket until the subscription closes.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for event := range sub.Events {
				if err := conn.sendJSON(event); err != nil {
					log.Warn("failed to write event", "session", sessionID, "error", err)
					return
				}
			}
		}()

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				log.Info("event observer disconnected", "session", sessionID)
				break
			}
			handleWSAction(conn, sup, log, sessionID, req)
		}

		// Unsubscribing closes the event channel, which stops the pump.
		sub.Unsubscribe()
		<-done
	}
}

// handleWSAction routes one client message.
func handleWSAction(conn *wsConn, sup *wizard.TaskSupervisor, log *logging.Logger, sessionID string, req WSRequest) {
	switch req.Action {
	case "task_register":
		if req.Spec == nil {
			_ = conn.sendJSON(gin.H{"action": "error", "error": "task_register requires a spec"})
			return
		}
		task, err := sup.Register(*req.Spec)
		if err != nil {
			_ = conn.sendJSON(gin.H{"action": "error", "error": err.Error()})
			return
		}
		if err := sup.StartMonitoring(task.ID); err != nil {
			_ = conn.sendJSON(gin.H{"action": "error", "error": err.Error()})
			return
		}
		// The task:registered event also arrives via the bus; this
		// reply gives the requester the ID synchronously.
		_ = conn.sendJSON(gin.H{"action": "task_accepted", "taskId": task.ID})

	case "task_cancel":
		if err := sup.Cancel(req.TaskID); err != nil {
			_ = conn.sendJSON(gin.H{"action": "error", "error": err.Error()})
			return
		}
		_ = conn.sendJSON(gin.H{"action": "task_cancel_accepted", "taskId": req.TaskID})

	default:
		log.Warn("unknown websocket action", "session", sessionID, "action", req.Action)
		_ = conn.sendJSON(gin.H{"action": "error", "error": "unknown action: " + req.Action})
	}
}
