// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// RegisterTask creates a background monitoring task and starts its
// polling loop.
func RegisterTask(sup *wizard.TaskSupervisor, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec wizard.TaskSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task spec: " + err.Error()})
			return
		}

		task, err := sup.Register(spec)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := sup.StartMonitoring(task.ID); err != nil {
			log.Error("failed to start task monitoring", "task_id", task.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, task)
	}
}

// ListTasks returns all known tasks, newest first.
func ListTasks(sup *wizard.TaskSupervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tasks": sup.List()})
	}
}

// GetTask returns one task by ID.
func GetTask(sup *wizard.TaskSupervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := sup.Get(c.Param("taskId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// CancelTask stops a pending or running task.
func CancelTask(sup *wizard.TaskSupervisor, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("taskId")
		if err := sup.Cancel(taskID); err != nil {
			switch {
			case errors.Is(err, wizard.ErrTaskNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, wizard.ErrTaskFinished):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				log.Error("failed to cancel task", "task_id", taskID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "taskId": taskID})
	}
}
