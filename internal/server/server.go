// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server assembles the installer API: HTTP endpoints, the
// events websocket, and Prometheus metrics, with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kaspa-aio/kaspa-aio/internal/server/middleware"
	"github.com/kaspa-aio/kaspa-aio/internal/server/routes"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// shutdownTimeout bounds how long Run waits for in-flight requests
// after the context is cancelled.
const shutdownTimeout = 10 * time.Second

// Config configures the API server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:3880".
	Addr string

	// Debug enables gin's debug mode and verbose routing logs.
	Debug bool
}

// Server is the installer API server.
type Server struct {
	http *http.Server
	log  *logging.Logger
}

// New builds the server and wires all routes.
func New(cfg Config, deps routes.Deps) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if deps.Log == nil {
		deps.Log = logging.Default()
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(deps.Log))
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}

	routes.SetupRoutes(router, deps)

	return &Server{
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: deps.Log,
	}, nil
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}
