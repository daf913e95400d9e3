// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Metric Sources
// =============================================================================

// MetricSample is one observation of a sync metric.
type MetricSample struct {
	// Value is the raw metric (DAA score, block count, row offset).
	Value float64

	// Synced is set when the service itself reports it has caught up,
	// independent of any target value.
	Synced bool
}

// MetricSource produces sync progress observations for one service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the supervisor may
// poll several tasks against the same source.
type MetricSource interface {
	// Sample fetches the current metric. Unreachable services return
	// an error; the supervisor counts consecutive failures.
	Sample(ctx context.Context) (MetricSample, error)
}

// MetricSourceFactory builds the source for a task spec. Keeping this
// behind a factory lets tests swap in scripted sources.
type MetricSourceFactory func(spec TaskSpec) (MetricSource, error)

// =============================================================================
// Node Sync Source
// =============================================================================

// NodeSyncSource tracks node sync via the REST server.
//
// # Description
//
// Samples /info/blockdag for the virtual DAA score (the metric) and
// /info/kaspad for the node's own isSynced signal. The node knows
// better than any target value when it has caught up, so isSynced
// short-circuits target comparison.
type NodeSyncSource struct {
	client  *http.Client
	baseURL string
}

// NewNodeSyncSource creates a source against the REST server base URL.
func NewNodeSyncSource(baseURL string) *NodeSyncSource {
	return &NodeSyncSource{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Sample fetches the DAA score and synced flag.
func (s *NodeSyncSource) Sample(ctx context.Context) (MetricSample, error) {
	var blockdag struct {
		VirtualDaaScore json.Number `json:"virtualDaaScore"`
	}
	if err := getJSON(ctx, s.client, s.baseURL+"/info/blockdag", &blockdag); err != nil {
		return MetricSample{}, fmt.Errorf("failed to query blockdag info: %w", err)
	}

	value, err := blockdag.VirtualDaaScore.Float64()
	if err != nil {
		return MetricSample{}, fmt.Errorf("unexpected virtualDaaScore %q: %w", blockdag.VirtualDaaScore, err)
	}

	var kaspad struct {
		IsSynced bool `json:"isSynced"`
	}
	// The synced flag is best-effort; a missing endpoint just means we
	// fall back to target comparison.
	_ = getJSON(ctx, s.client, s.baseURL+"/info/kaspad", &kaspad)

	return MetricSample{Value: value, Synced: kaspad.IsSynced}, nil
}

// =============================================================================
// Indexer Sync Source
// =============================================================================

// IndexerSyncSource tracks how far the indexer lags the node tip.
//
// # Description
//
// Compares the indexer's highest ingested block score against the
// node's current virtual DAA score, both via the REST server. The
// task is synced when the indexer is within lagTolerance of the tip.
type IndexerSyncSource struct {
	client       *http.Client
	baseURL      string
	lagTolerance float64
}

// NewIndexerSyncSource creates a source against the REST server.
func NewIndexerSyncSource(baseURL string) *IndexerSyncSource {
	return &IndexerSyncSource{
		client:       &http.Client{Timeout: 10 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		lagTolerance: 100,
	}
}

// Sample fetches the indexer tip and compares it to the node tip.
func (s *IndexerSyncSource) Sample(ctx context.Context) (MetricSample, error) {
	var indexed struct {
		HighestDaaScore json.Number `json:"highestDaaScore"`
	}
	if err := getJSON(ctx, s.client, s.baseURL+"/info/indexer", &indexed); err != nil {
		return MetricSample{}, fmt.Errorf("failed to query indexer info: %w", err)
	}
	value, err := indexed.HighestDaaScore.Float64()
	if err != nil {
		return MetricSample{}, fmt.Errorf("unexpected highestDaaScore %q: %w", indexed.HighestDaaScore, err)
	}

	var blockdag struct {
		VirtualDaaScore json.Number `json:"virtualDaaScore"`
	}
	if err := getJSON(ctx, s.client, s.baseURL+"/info/blockdag", &blockdag); err != nil {
		// Tip unknown: report the raw counter without a synced signal.
		return MetricSample{Value: value}, nil
	}
	tip, err := blockdag.VirtualDaaScore.Float64()
	if err != nil {
		return MetricSample{Value: value}, nil
	}

	return MetricSample{
		Value:  value,
		Synced: tip > 0 && tip-value <= s.lagTolerance,
	}, nil
}

// =============================================================================
// Generic Source
// =============================================================================

// GenericJSONSource reads one numeric field from a JSON endpoint.
//
// Used for task type "generic", where the caller supplies the URL and
// field name in the task spec.
type GenericJSONSource struct {
	client *http.Client
	url    string
	field  string
}

// NewGenericJSONSource creates a source for the given endpoint/field.
func NewGenericJSONSource(url, field string) (*GenericJSONSource, error) {
	if url == "" || field == "" {
		return nil, fmt.Errorf("generic metric source needs a URL and a field name")
	}
	return &GenericJSONSource{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		field:  field,
	}, nil
}

// Sample fetches the endpoint and extracts the field.
func (s *GenericJSONSource) Sample(ctx context.Context) (MetricSample, error) {
	var doc map[string]any
	if err := getJSON(ctx, s.client, s.url, &doc); err != nil {
		return MetricSample{}, err
	}

	raw, ok := doc[s.field]
	if !ok {
		return MetricSample{}, fmt.Errorf("field %q not present in response from %s", s.field, s.url)
	}

	switch v := raw.(type) {
	case float64:
		return MetricSample{Value: v}, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return MetricSample{}, fmt.Errorf("field %q is not numeric: %q", s.field, v)
		}
		return MetricSample{Value: f}, nil
	default:
		return MetricSample{}, fmt.Errorf("field %q has unsupported type %T", s.field, raw)
	}
}

// =============================================================================
// Factory
// =============================================================================

// NewMetricSourceFactory builds the production factory, routing task
// types to their sources against the given REST server base URL.
func NewMetricSourceFactory(restBaseURL string) MetricSourceFactory {
	return func(spec TaskSpec) (MetricSource, error) {
		switch spec.Type {
		case TaskNodeSync:
			return NewNodeSyncSource(restBaseURL), nil
		case TaskIndexerSync:
			return NewIndexerSyncSource(restBaseURL), nil
		case TaskGeneric:
			return NewGenericJSONSource(spec.Config.MetricURL, spec.Config.MetricField)
		default:
			return nil, fmt.Errorf("unknown task type: %s", spec.Type)
		}
	}
}

// getJSON fetches a URL and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Compile-time interface compliance checks.
var (
	_ MetricSource = (*NodeSyncSource)(nil)
	_ MetricSource = (*IndexerSyncSource)(nil)
	_ MetricSource = (*GenericJSONSource)(nil)
)
