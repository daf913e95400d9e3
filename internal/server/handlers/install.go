// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP and WebSocket endpoints of the
// installer API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// InstallRequestBody is the POST /v1/install payload.
type InstallRequestBody struct {
	// Profiles selects what to deploy (core, indexer, ...).
	Profiles []string `json:"profiles" binding:"required,min=1"`

	// Config is the deployment configuration.
	Config *wizard.InstallConfig `json:"config" binding:"required"`

	// SessionID scopes progress events to one observer. Obtained from
	// the session_created message on the events websocket. Empty means
	// events are broadcast.
	SessionID string `json:"sessionId"`
}

// HealthCheck reports server liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartInstall launches an install run in the background.
//
// # Description
//
// Returns 202 immediately; progress arrives over the events websocket
// and the terminal outcome lands in the persisted state. A run already
// in progress yields 409. The quick wizardRunning read here is only a
// fast path for the 409; the authoritative check-and-set happens
// inside the install manager, so two racing requests cannot both
// start.
func StartInstall(manager *wizard.InstallManager, store wizard.StateStore, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body InstallRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		state, err := store.Read()
		if err != nil {
			log.Error("failed to read installation state", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read installation state"})
			return
		}
		if state.WizardRunning {
			c.JSON(http.StatusConflict, gin.H{"error": "an installation is already in progress"})
			return
		}

		session := body.SessionID
		if session == "" {
			session = wizard.SessionBroadcast
		}

		go func() {
			// Deliberately detached from the request context: the
			// install outlives the HTTP exchange.
			err := manager.Install(context.Background(), wizard.InstallRequest{
				Session:  session,
				Profiles: body.Profiles,
				Config:   body.Config,
			})
			if err != nil {
				log.Warn("install run failed", "session", session, "error", err)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"status":    "accepted",
			"sessionId": session,
		})
	}
}

// GetState returns the persisted installation state.
func GetState(store wizard.StateStore, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := store.Read()
		if err != nil {
			log.Error("failed to read installation state", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read installation state"})
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// ResetRequestBody is the POST /v1/install/reset payload.
type ResetRequestBody struct {
	// RemoveVolumes also deletes named volumes, including the chain
	// database. Irreversible.
	RemoveVolumes bool `json:"removeVolumes"`
}

// ResetInstall tears the stack down and returns the state to idle.
func ResetInstall(manager *wizard.InstallManager, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body ResetRequestBody
		// Empty body means a plain stop without volume removal.
		_ = c.ShouldBindJSON(&body)

		if err := manager.Uninstall(c.Request.Context(), body.RemoveVolumes); err != nil {
			if errors.Is(err, wizard.ErrInstallInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "an installation is already in progress"})
				return
			}
			log.Error("reset failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "reset", "volumesRemoved": body.RemoveVolumes})
	}
}

// NewSession hands out a session identifier for clients that want to
// scope events without opening the websocket first.
func NewSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessionId": uuid.New().String()})
	}
}
