// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaspa-aio/kaspa-aio/internal/server/handlers"
	"github.com/kaspa-aio/kaspa-aio/internal/server/observability"
	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// Deps collects everything the route handlers need.
type Deps struct {
	Manager    *wizard.InstallManager
	Store      wizard.StateStore
	Supervisor *wizard.TaskSupervisor
	Bus        *wizard.EventBus
	Metrics    *observability.Metrics
	Log        *logging.Logger
}

// SetupRoutes wires all endpoints onto the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/install", handlers.StartInstall(deps.Manager, deps.Store, deps.Log))
		v1.GET("/install/state", handlers.GetState(deps.Store, deps.Log))
		v1.POST("/install/reset", handlers.ResetInstall(deps.Manager, deps.Log))
		v1.GET("/session", handlers.NewSession())
		v1.GET("/events/ws", handlers.HandleEventsWebSocket(deps.Bus, deps.Supervisor, deps.Metrics, deps.Log))

		// Task administration routes
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", handlers.RegisterTask(deps.Supervisor, deps.Log))
			tasks.GET("", handlers.ListTasks(deps.Supervisor))
			tasks.GET("/:taskId", handlers.GetTask(deps.Supervisor))
			tasks.POST("/:taskId/cancel", handlers.CancelTask(deps.Supervisor, deps.Log))
		}
	}
}
