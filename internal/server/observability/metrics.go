// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the API server.
//
// # Description
//
// Metrics cover the install pipeline (runs, stage durations, failures
// by category), background tasks, the event bus, and HTTP traffic.
// They are exposed on /metrics for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
)

// The install manager and task supervisor report through this type.
var _ wizard.MetricsRecorder = (*Metrics)(nil)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics.
const metricsNamespace = "kaspa_aio"

// Metrics holds all Prometheus metrics for the server.
//
// Initialize once at startup via InitMetrics(); registering twice
// panics on duplicate registration.
type Metrics struct {
	// InstallsTotal counts install runs by terminal status.
	// Labels: status (complete, error)
	InstallsTotal *prometheus.CounterVec

	// InstallStageDuration measures per-stage duration in seconds.
	// Labels: stage (init, config, pull, build, deploy, validate)
	InstallStageDuration *prometheus.HistogramVec

	// InstallFailuresTotal counts install failures by category.
	// Labels: category (port_conflict, disk_space, ...)
	InstallFailuresTotal *prometheus.CounterVec

	// TasksTotal counts background task transitions.
	// Labels: type (node-sync, indexer-sync, generic), status
	TasksTotal *prometheus.CounterVec

	// EventSubscribers tracks currently connected event observers.
	EventSubscribers prometheus.Gauge

	// HTTPRequestsTotal counts HTTP requests by method, path, status.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request duration in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics creates and registers all server metrics.
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		InstallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "installer",
				Name:      "installs_total",
				Help:      "Total install runs by terminal status",
			},
			[]string{"status"},
		),

		InstallStageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "installer",
				Name:      "stage_duration_seconds",
				Help:      "Install stage duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"stage"},
		),

		InstallFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "installer",
				Name:      "failures_total",
				Help:      "Total install failures by category",
			},
			[]string{"category"},
		),

		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "tasks",
				Name:      "transitions_total",
				Help:      "Background task status transitions",
			},
			[]string{"type", "status"},
		),

		EventSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Currently connected event observers",
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordInstall records a finished install run.
func (m *Metrics) RecordInstall(success bool) {
	status := "complete"
	if !success {
		status = "error"
	}
	m.InstallsTotal.WithLabelValues(status).Inc()
}

// RecordInstallFailure records a failure category.
func (m *Metrics) RecordInstallFailure(category string) {
	m.InstallFailuresTotal.WithLabelValues(category).Inc()
}

// RecordStageDuration records how long one stage took.
func (m *Metrics) RecordStageDuration(stage string, seconds float64) {
	m.InstallStageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordTaskTransition records a task status change.
func (m *Metrics) RecordTaskTransition(taskType, status string) {
	m.TasksTotal.WithLabelValues(taskType, status).Inc()
}

// ObserverConnected increments the subscriber gauge.
func (m *Metrics) ObserverConnected() {
	m.EventSubscribers.Inc()
}

// ObserverDisconnected decrements the subscriber gauge.
func (m *Metrics) ObserverDisconnected() {
	m.EventSubscribers.Dec()
}
