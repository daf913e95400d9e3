// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressIndicator defines the interface for progress feedback.
//
// # Description
//
// ProgressIndicator provides visual feedback during long-running
// operations so users do not think the process has frozen.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple
// goroutines.
type ProgressIndicator interface {
	// Start begins the progress indication.
	Start()

	// Stop halts the progress indication.
	Stop()

	// SetMessage updates the displayed message.
	SetMessage(message string)

	// IsRunning returns whether the indicator is active.
	IsRunning() bool
}

// SpinnerConfig configures spinner behavior.
type SpinnerConfig struct {
	// Message is the text displayed next to the spinner.
	Message string

	// Interval is the time between frame updates.
	// Default: 100ms
	Interval time.Duration

	// Frames are the animation characters.
	// Default: Braille dots
	Frames []string

	// Writer is where output is written.
	// Default: os.Stderr
	Writer io.Writer

	// HideCursor hides the terminal cursor while spinning.
	HideCursor bool

	// ClearOnStop clears the spinner line when stopped.
	ClearOnStop bool
}

// DefaultSpinnerConfig returns Braille dot animation at 100ms writing
// to stderr.
func DefaultSpinnerConfig() SpinnerConfig {
	return SpinnerConfig{
		Message:     "Working...",
		Interval:    100 * time.Millisecond,
		Frames:      []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		Writer:      os.Stderr,
		HideCursor:  true,
		ClearOnStop: true,
	}
}

// Spinner provides animated progress feedback for CLI operations.
//
// # Description
//
// Displays an animated character sequence with a message while an
// install runs. The install command updates the message from the
// event stream as stages advance.
//
// # Limitations
//
//   - Requires a TTY-compatible terminal for proper display
//   - Concurrent writes to the same Writer may garble output
//
// # Assumptions
//
//   - Terminal supports ANSI escape codes
type Spinner struct {
	config  SpinnerConfig
	frame   int
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
}

// NewSpinner creates a spinner; nothing is displayed until Start.
func NewSpinner(config SpinnerConfig) *Spinner {
	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}
	if len(config.Frames) == 0 {
		config.Frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}

	return &Spinner{
		config: config,
	}
}

// Start begins the spinner animation. Subsequent calls are no-ops.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if s.config.HideCursor {
		fmt.Fprint(s.config.Writer, "\033[?25l")
	}

	go s.spin()
}

// Stop halts the animation, blocking until the spinner goroutine has
// fully stopped. Safe to call when not running.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	if s.config.ClearOnStop {
		s.clearLine()
	}
	if s.config.HideCursor {
		fmt.Fprint(s.config.Writer, "\033[?25h")
	}
}

// SetMessage updates the displayed message. Takes effect on the next
// frame.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Message = message
}

// IsRunning returns whether the spinner is animating.
func (s *Spinner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Spinner) spin() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.render()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.render()
		}
	}
}

func (s *Spinner) render() {
	s.mu.Lock()
	frame := s.config.Frames[s.frame%len(s.config.Frames)]
	s.frame++
	message := s.config.Message
	s.mu.Unlock()

	fmt.Fprintf(s.config.Writer, "\r\033[K%s %s", frame, message)
}

func (s *Spinner) clearLine() {
	fmt.Fprint(s.config.Writer, "\r\033[K")
}

// NoopIndicator satisfies ProgressIndicator without output. Used when
// stderr is not a terminal or --quiet is set.
type NoopIndicator struct{}

func (NoopIndicator) Start()            {}
func (NoopIndicator) Stop()             {}
func (NoopIndicator) SetMessage(string) {}
func (NoopIndicator) IsRunning() bool   { return false }

var (
	_ ProgressIndicator = (*Spinner)(nil)
	_ ProgressIndicator = NoopIndicator{}
)
