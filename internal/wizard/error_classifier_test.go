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
	"testing"

	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

func newTestClassifier() *DefaultClassifier {
	return NewDefaultClassifier(logging.New(logging.Config{Quiet: true}))
}

func TestClassify_MessagePatterns(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		message string
		want    Category
	}{
		{"Bind for 0.0.0.0:16110 failed: port is already allocated", CategoryPortConflict},
		{"listen tcp :16110: bind: address already in use", CategoryPortConflict},
		{"permission denied while trying to connect to the Docker daemon socket", CategoryPermission},
		{"write /var/lib/docker: no space left on device", CategoryDiskSpace},
		{"Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?", CategoryDockerNotRunning},
		{"manifest unknown: manifest unknown", CategoryImageNotFound},
		{"pull access denied for supertypo/bogus, repository does not exist", CategoryImageNotFound},
		{"fork/exec: cannot allocate memory", CategoryResourceLimit},
		{"Get \"https://registry-1.docker.io/v2/\": net/http: TLS handshake timeout", CategoryNetwork},
		{"dial tcp: lookup registry-1.docker.io: no such host", CategoryNetwork},
		{"something inexplicable happened", CategoryUnknown},
	}

	for _, tt := range tests {
		if got := c.Classify(errors.New(tt.message)); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.message, got, tt.want)
		}
	}
}

func TestClassify_TypedErrorWins(t *testing.T) {
	c := newTestClassifier()

	// A typed error keeps its origin category even when its message
	// pattern-matches a different one.
	err := NewInstallError(StageDeploy, CategoryDiskSpace, "kaspa-db",
		errors.New("connection refused"))
	if got := c.Classify(err); got != CategoryDiskSpace {
		t.Errorf("typed error category = %s, want disk_space", got)
	}

	// Wrapped typed errors are still found.
	wrapped := fmt.Errorf("deploy stage: %w", err)
	if got := c.Classify(wrapped); got != CategoryDiskSpace {
		t.Errorf("wrapped typed error category = %s, want disk_space", got)
	}

	// Typed error with unknown category falls back to patterns.
	untagged := NewInstallError(StagePull, CategoryUnknown, "",
		errors.New("manifest unknown"))
	if got := c.Classify(untagged); got != CategoryImageNotFound {
		t.Errorf("untagged typed error category = %s, want image_not_found", got)
	}
}

func TestClassify_NilError(t *testing.T) {
	c := newTestClassifier()
	if got := c.Classify(nil); got != CategoryUnknown {
		t.Errorf("Classify(nil) = %s, want unknown", got)
	}
}

func TestInstallError_Error(t *testing.T) {
	err := NewInstallError(StageBuild, CategoryUnknown, "dashboard", errors.New("exit 1"))
	msg := err.Error()
	if msg != "build failed for dashboard: exit 1" {
		t.Errorf("Error() = %q", msg)
	}

	noService := NewInstallError(StageConfig, CategoryUnknown, "", errors.New("bad yaml"))
	if noService.Error() != "config failed: bad yaml" {
		t.Errorf("Error() = %q", noService.Error())
	}
}

func TestSuggestionsFor_AllCategoriesCovered(t *testing.T) {
	c := newTestClassifier()

	categories := []Category{
		CategoryPortConflict, CategoryPermission, CategoryResourceLimit,
		CategoryDiskSpace, CategoryDockerNotRunning, CategoryNetwork,
		CategoryImageNotFound, CategoryUnknown,
	}

	for _, cat := range categories {
		suggestions := c.SuggestionsFor(cat, SuggestionContext{})
		if len(suggestions) == 0 {
			t.Errorf("category %s has no suggestions", cat)
		}
		for _, s := range suggestions {
			if s.Description == "" {
				t.Errorf("category %s has a suggestion without description", cat)
			}
		}
	}
}

func TestSuggestionsFor_PortConflictWithPort(t *testing.T) {
	c := newTestClassifier()

	suggestions := c.SuggestionsFor(CategoryPortConflict, SuggestionContext{Port: 16110})
	if len(suggestions) < 2 {
		t.Fatalf("expected at least 2 suggestions, got %d", len(suggestions))
	}

	// The auto-appliable rewrite is ranked first and carries the port.
	first := suggestions[0]
	if !first.AutoApply {
		t.Error("first suggestion should be auto-appliable")
	}
	if first.Port != 16110 {
		t.Errorf("suggestion port = %d, want 16110", first.Port)
	}
	if first.Severity != SeverityCritical {
		t.Errorf("first suggestion severity = %s", first.Severity)
	}
}

func TestApply_RejectsAdvisory(t *testing.T) {
	c := newTestClassifier()

	_, err := c.Apply(context.Background(), Suggestion{
		Category:  CategoryDiskSpace,
		AutoApply: false,
	})
	if err == nil {
		t.Error("advisory suggestions must not be applied")
	}
}

func TestApply_PortRewrite(t *testing.T) {
	c := newTestClassifier()

	var rewrittenFrom int
	c.SetPortRewriter(func(ctx context.Context, oldPort int) (int, error) {
		rewrittenFrom = oldPort
		return oldPort + 1, nil
	})

	retry, err := c.Apply(context.Background(), Suggestion{
		Category:  CategoryPortConflict,
		AutoApply: true,
		Port:      16110,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !retry {
		t.Error("successful port rewrite should advise retry")
	}
	if rewrittenFrom != 16110 {
		t.Errorf("rewriter called with port %d, want 16110", rewrittenFrom)
	}
}

func TestApply_PortRewriteUnwired(t *testing.T) {
	c := newTestClassifier()

	retry, err := c.Apply(context.Background(), Suggestion{
		Category:  CategoryPortConflict,
		AutoApply: true,
		Port:      16110,
	})
	if err == nil {
		t.Error("Apply without a rewriter should fail")
	}
	if retry {
		t.Error("failed apply should not advise retry")
	}
}
