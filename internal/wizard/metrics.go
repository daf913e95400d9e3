// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

// MetricsRecorder receives install and task lifecycle measurements.
//
// # Description
//
// The orchestration core stays free of any metrics backend; the server
// layer wires its Prometheus collectors in through this interface. A
// nil recorder disables recording entirely.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: stage durations and
// task transitions are reported from pipeline and monitoring goroutines.
type MetricsRecorder interface {
	// RecordInstall counts a finished install run by terminal outcome.
	RecordInstall(success bool)

	// RecordInstallFailure counts a failed run by error category.
	RecordInstallFailure(category string)

	// RecordStageDuration observes how long one pipeline stage took.
	RecordStageDuration(stage string, seconds float64)

	// RecordTaskTransition counts a task status change by type.
	RecordTaskTransition(taskType, status string)
}
