// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaspa-aio/kaspa-aio/cmd/kaspa-aio/config"
	"github.com/kaspa-aio/kaspa-aio/internal/wizard"
)

// Task commands talk to the running serve daemon over its API: tasks
// live in the daemon's memory, not on disk.

func apiBase() string {
	return "http://" + config.Global.Server.Addr
}

func apiClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// runTasksList prints the daemon's task table, newest first.
func runTasksList(cmd *cobra.Command, args []string) {
	resp, err := apiClient().Get(apiBase() + "/v1/tasks")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach the server at %s (is 'kaspa-aio serve' running?): %v\n",
			config.Global.Server.Addr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, body)
		os.Exit(1)
	}

	var payload struct {
		Tasks []wizard.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to decode response: %v\n", err)
		os.Exit(1)
	}

	if len(payload.Tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}
	for _, task := range payload.Tasks {
		fmt.Printf("%s  %-12s %-10s %5.1f%%  %s\n",
			task.ID, task.Type, task.Status, task.Progress, task.Service)
	}
}

// runTasksCancel cancels one task by id.
func runTasksCancel(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one task id is required")
		os.Exit(1)
	}
	taskID := args[0]

	resp, err := apiClient().Post(apiBase()+"/v1/tasks/"+taskID+"/cancel", "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach the server at %s (is 'kaspa-aio serve' running?): %v\n",
			config.Global.Server.Addr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("Task %s cancelled.\n", taskID)
	case http.StatusNotFound:
		fmt.Fprintf(os.Stderr, "Error: no task with id %s\n", taskID)
		os.Exit(1)
	case http.StatusConflict:
		fmt.Fprintf(os.Stderr, "Error: task %s has already finished\n", taskID)
		os.Exit(1)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, body)
		os.Exit(1)
	}
}
