// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"context"
	"io"
	"sync"
)

// MockExecutor is a test double for Executor.
//
// Configure the mock by setting function fields before use. Methods with
// a nil function field return an empty successful Result, so tests only
// need to configure the operations they care about.
//
// # Examples
//
//	mock := &compose.MockExecutor{
//	    PullFunc: func(ctx context.Context, opts compose.PullOptions) (*compose.Result, error) {
//	        if opts.Service == "kaspa-db" {
//	            return nil, errors.New("manifest unknown")
//	        }
//	        return &compose.Result{Success: true}, nil
//	    },
//	}
type MockExecutor struct {
	PullFunc   func(ctx context.Context, opts PullOptions) (*Result, error)
	BuildFunc  func(ctx context.Context, opts BuildOptions) (*Result, error)
	UpFunc     func(ctx context.Context, opts UpOptions) (*Result, error)
	DownFunc   func(ctx context.Context, opts DownOptions) (*Result, error)
	StatusFunc func(ctx context.Context) (*Status, error)
	LogsFunc   func(ctx context.Context, opts LogsOptions, w io.Writer) error
	FilesFunc  func() []string

	// Calls records all method invocations for verification
	Calls []ExecutorCall

	mu sync.Mutex
}

// ExecutorCall records a single method invocation.
type ExecutorCall struct {
	Method   string
	Service  string
	Services []string
}

// Pull delegates to PullFunc and records the call.
func (m *MockExecutor) Pull(ctx context.Context, opts PullOptions) (*Result, error) {
	m.record(ExecutorCall{Method: "Pull", Service: opts.Service})
	if m.PullFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.PullFunc(ctx, opts)
}

// Build delegates to BuildFunc and records the call.
func (m *MockExecutor) Build(ctx context.Context, opts BuildOptions) (*Result, error) {
	m.record(ExecutorCall{Method: "Build", Services: opts.Services})
	if m.BuildFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.BuildFunc(ctx, opts)
}

// Up delegates to UpFunc and records the call.
func (m *MockExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	m.record(ExecutorCall{Method: "Up", Services: opts.Services})
	if m.UpFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.UpFunc(ctx, opts)
}

// Down delegates to DownFunc and records the call.
func (m *MockExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	m.record(ExecutorCall{Method: "Down"})
	if m.DownFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.DownFunc(ctx, opts)
}

// Status delegates to StatusFunc and records the call.
func (m *MockExecutor) Status(ctx context.Context) (*Status, error) {
	m.record(ExecutorCall{Method: "Status"})
	if m.StatusFunc == nil {
		return &Status{}, nil
	}
	return m.StatusFunc(ctx)
}

// Logs delegates to LogsFunc and records the call.
func (m *MockExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	m.record(ExecutorCall{Method: "Logs", Services: opts.Services})
	if m.LogsFunc == nil {
		return nil
	}
	return m.LogsFunc(ctx, opts, w)
}

// GetComposeFiles delegates to FilesFunc and records the call.
func (m *MockExecutor) GetComposeFiles() []string {
	m.record(ExecutorCall{Method: "GetComposeFiles"})
	if m.FilesFunc == nil {
		return nil
	}
	return m.FilesFunc()
}

func (m *MockExecutor) record(call ExecutorCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockExecutor) GetCalls() []ExecutorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ExecutorCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// CallsTo returns the recorded calls to one method.
func (m *MockExecutor) CallsTo(method string) []ExecutorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []ExecutorCall
	for _, c := range m.Calls {
		if c.Method == method {
			result = append(result, c)
		}
	}
	return result
}

// Compile-time interface compliance check.
var _ Executor = (*MockExecutor)(nil)
