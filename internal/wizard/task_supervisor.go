// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// =============================================================================
// Task Supervisor
// =============================================================================

// Sentinel errors returned by the task supervisor.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskNotPending = errors.New("task is not pending")
	ErrTaskFinished   = errors.New("task already finished")
)

const (
	// defaultPollInterval is used when a spec does not override it.
	defaultPollInterval = 10 * time.Second

	// maxConsecutiveFailures is how many sampling errors in a row a
	// monitoring loop tolerates before the task fails.
	maxConsecutiveFailures = 3
)

// TaskSupervisor owns the lifecycle of background monitoring tasks.
//
// # Description
//
// Tasks track long-running convergence outside the install pipeline,
// such as initial node sync or indexer catch-up. Each monitoring loop
// runs in its own goroutine with its own context, so cancelling one
// task never disturbs another. Task state lives only in the supervisor:
// it is deliberately not persisted into InstallationState, and a
// process restart simply drops in-flight tasks.
//
// Progress and terminal transitions are published on the event bus as
// broadcast events; tasks are not session-scoped the way installs are.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type TaskSupervisor struct {
	bus     *EventBus
	factory MetricSourceFactory
	log     *logging.Logger

	// metrics is optional; nil disables recording.
	metrics MetricsRecorder

	// pollInterval is the default loop cadence; specs can override it.
	pollInterval time.Duration

	mu    sync.Mutex
	tasks map[string]*taskEntry

	wg     sync.WaitGroup
	closed bool
}

// taskEntry pairs a task snapshot with its monitoring machinery.
type taskEntry struct {
	task   Task
	spec   TaskSpec
	source MetricSource

	// cancel stops the monitoring loop; nil until StartMonitoring.
	cancel context.CancelFunc
}

// NewTaskSupervisor creates a supervisor publishing to the given bus.
func NewTaskSupervisor(bus *EventBus, factory MetricSourceFactory, log *logging.Logger) (*TaskSupervisor, error) {
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("metric source factory is required")
	}
	if log == nil {
		log = logging.Default()
	}
	return &TaskSupervisor{
		bus:          bus,
		factory:      factory,
		log:          log.With("component", "task-supervisor"),
		pollInterval: defaultPollInterval,
		tasks:        make(map[string]*taskEntry),
	}, nil
}

// SetPollInterval overrides the default loop cadence. Mostly useful in
// tests; per-spec PollIntervalSeconds still wins.
func (s *TaskSupervisor) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = d
}

// SetMetrics wires a recorder for task status transitions. Call before
// tasks are registered.
func (s *TaskSupervisor) SetMetrics(m MetricsRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// recordTransition reports a status change to the recorder, if any.
func (s *TaskSupervisor) recordTransition(task *Task) {
	s.mu.Lock()
	m := s.metrics
	s.mu.Unlock()
	if m != nil {
		m.RecordTaskTransition(string(task.Type), string(task.Status))
	}
}

// Register creates a pending task from the spec and announces it.
//
// The metric source is built eagerly so a bad spec (unknown type,
// missing generic URL) is rejected at registration time rather than
// surfacing later as a monitoring failure.
func (s *TaskSupervisor) Register(spec TaskSpec) (*Task, error) {
	source, err := s.factory(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build metric source: %w", err)
	}

	now := time.Now()
	task := Task{
		ID:        uuid.New().String(),
		Type:      spec.Type,
		Service:   spec.Service,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("task supervisor is closed")
	}
	s.tasks[task.ID] = &taskEntry{task: task, spec: spec, source: source}
	s.mu.Unlock()

	s.log.Info("task registered", "task_id", task.ID, "type", task.Type, "service", task.Service)
	s.recordTransition(&task)
	s.publish(EventTaskRegistered, &task, "")

	return &task, nil
}

// StartMonitoring launches the polling loop for a pending task.
func (s *TaskSupervisor) StartMonitoring(taskID string) error {
	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if entry.task.Status != TaskPending {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTaskNotPending, taskID, entry.task.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	entry.task.Status = TaskRunning
	entry.task.UpdatedAt = time.Now()

	interval := s.pollInterval
	if entry.spec.Config.PollIntervalSeconds > 0 {
		interval = time.Duration(entry.spec.Config.PollIntervalSeconds) * time.Second
	}

	source := entry.source
	spec := entry.spec
	task := entry.task
	s.mu.Unlock()

	s.recordTransition(&task)

	s.wg.Add(1)
	go s.monitor(ctx, taskID, source, spec, interval)

	return nil
}

// Cancel stops a pending or running task.
//
// The loop observes its context within one poll interval; the task
// flips to cancelled immediately so observers never see a stale
// running status.
func (s *TaskSupervisor) Cancel(taskID string) error {
	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if isTerminal(entry.task.Status) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTaskFinished, taskID, entry.task.Status)
	}

	if entry.cancel != nil {
		entry.cancel()
	}
	entry.task.Status = TaskCancelled
	entry.task.UpdatedAt = time.Now()
	task := entry.task
	s.mu.Unlock()

	s.log.Info("task cancelled", "task_id", taskID)
	s.recordTransition(&task)
	s.publish(EventTaskCancelled, &task, "")

	return nil
}

// Get returns a snapshot of one task.
func (s *TaskSupervisor) Get(taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task := entry.task
	return &task, nil
}

// List returns snapshots of all tasks, newest first.
func (s *TaskSupervisor) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, entry := range s.tasks {
		tasks = append(tasks, entry.task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

// Close cancels every running loop and waits for them to exit.
func (s *TaskSupervisor) Close() {
	s.mu.Lock()
	s.closed = true
	for _, entry := range s.tasks {
		if entry.cancel != nil {
			entry.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// =============================================================================
// Monitoring Loop
// =============================================================================

// monitor is the per-task polling loop. It samples immediately, then
// on every tick, until the task reaches a terminal status or its
// context is cancelled.
func (s *TaskSupervisor) monitor(ctx context.Context, taskID string, source MetricSource, spec TaskSpec, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	var lastErr error

	for {
		sample, err := source.Sample(ctx)
		if ctx.Err() != nil {
			// Cancelled mid-sample; Cancel/Close already updated status.
			return
		}

		if err != nil {
			failures++
			lastErr = err
			s.log.Warn("metric sample failed", "task_id", taskID, "failures", failures, "error", err)
			if failures >= maxConsecutiveFailures {
				s.fail(taskID, lastErr)
				return
			}
		} else {
			failures = 0
			if done := s.record(taskID, spec, sample); done {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// record applies one sample to the task and publishes progress.
// Returns true when the task reached completion.
func (s *TaskSupervisor) record(taskID string, spec TaskSpec, sample MetricSample) bool {
	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	if !ok || entry.task.Status != TaskRunning {
		s.mu.Unlock()
		return true
	}

	target := spec.Config.TargetValue
	done := sample.Synced

	progress := entry.task.Progress
	switch {
	case target > 0:
		pct := sample.Value / target * 100
		if pct >= 100 || done {
			pct = 100
			done = true
		}
		progress = pct
	case done:
		progress = 100
	default:
		// Open-ended task: expose the raw counter instead of a
		// percentage.
		progress = sample.Value
	}
	// A regressing metric (chain reorg, indexer restart) must not move
	// progress backwards while the task is running.
	if progress > entry.task.Progress {
		entry.task.Progress = progress
	}

	if entry.task.Metadata == nil {
		entry.task.Metadata = make(map[string]string)
	}
	entry.task.Metadata["lastValue"] = strconv.FormatFloat(sample.Value, 'f', -1, 64)

	if done {
		entry.task.Status = TaskCompleted
	}
	entry.task.UpdatedAt = time.Now()
	task := entry.task
	s.mu.Unlock()

	if done {
		s.recordTransition(&task)
	}
	s.publish(EventTaskProgress, &task, "")
	if done {
		s.log.Info("task completed", "task_id", taskID, "value", sample.Value)
	}
	return done
}

// fail marks a task failed after repeated sampling errors.
func (s *TaskSupervisor) fail(taskID string, cause error) {
	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	if !ok || entry.task.Status != TaskRunning {
		s.mu.Unlock()
		return
	}
	entry.task.Status = TaskFailed
	entry.task.UpdatedAt = time.Now()
	task := entry.task
	s.mu.Unlock()

	s.log.Error("task failed", "task_id", taskID, "error", cause)
	s.recordTransition(&task)
	s.publish(EventTaskError, &task, cause.Error())
}

// publish broadcasts a task event.
func (s *TaskSupervisor) publish(eventType EventType, task *Task, errMsg string) {
	s.bus.Publish(SessionBroadcast, Event{
		Type: eventType,
		Payload: TaskPayload{
			TaskID: task.ID,
			Task:   task,
			Error:  errMsg,
		},
	})
}

// isTerminal reports whether a status can never change again.
func isTerminal(status TaskStatus) bool {
	switch status {
	case TaskCompleted, TaskCancelled, TaskFailed:
		return true
	}
	return false
}
