// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"reflect"
	"strings"
	"testing"
)

func TestResolve_Core(t *testing.T) {
	r := NewDefaultProfileResolver()

	resolved, err := r.Resolve([]string{"core"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !reflect.DeepEqual(resolved.Profiles, []string{"core"}) {
		t.Errorf("profiles = %v", resolved.Profiles)
	}
	want := []string{"kaspa-node", "kaspa-rest-server"}
	if !reflect.DeepEqual(resolved.ServiceNames(), want) {
		t.Errorf("services = %v, want %v", resolved.ServiceNames(), want)
	}
	if len(resolved.OverlayFiles) != 0 {
		t.Errorf("core should need no overlays, got %v", resolved.OverlayFiles)
	}
}

func TestResolve_TransitiveRequires(t *testing.T) {
	r := NewDefaultProfileResolver()

	// explorer requires indexer requires core.
	resolved, err := r.Resolve([]string{"explorer"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	wantProfiles := []string{"core", "indexer", "explorer"}
	if !reflect.DeepEqual(resolved.Profiles, wantProfiles) {
		t.Errorf("profiles = %v, want %v", resolved.Profiles, wantProfiles)
	}

	names := resolved.ServiceNames()
	for _, svc := range []string{"kaspa-node", "kaspa-db", "kaspa-indexer", "kaspa-explorer"} {
		found := false
		for _, n := range names {
			if n == svc {
				found = true
			}
		}
		if !found {
			t.Errorf("service %s missing from %v", svc, names)
		}
	}

	if !reflect.DeepEqual(resolved.OverlayFiles,
		[]string{"docker-compose.indexer.yml", "docker-compose.explorer.yml"}) {
		t.Errorf("overlays = %v", resolved.OverlayFiles)
	}
}

func TestResolve_FullDeduplicates(t *testing.T) {
	r := NewDefaultProfileResolver()

	resolved, err := r.Resolve([]string{"full", "core", "indexer"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	seen := map[string]int{}
	for _, name := range resolved.ServiceNames() {
		seen[name]++
	}
	for name, count := range seen {
		if count > 1 {
			t.Errorf("service %s resolved %d times", name, count)
		}
	}

	// full pulls in every service including the built dashboard.
	if len(resolved.ServiceNames()) != 6 {
		t.Errorf("full profile should resolve 6 services, got %v", resolved.ServiceNames())
	}
}

func TestResolve_PullAndBuildSplit(t *testing.T) {
	r := NewDefaultProfileResolver()

	resolved, err := r.Resolve([]string{"dashboard"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	builds := resolved.BuildServices()
	if len(builds) != 1 || builds[0].Name != "dashboard" {
		t.Errorf("build services = %+v", builds)
	}

	for _, svc := range resolved.PullServices() {
		if svc.Image == "" {
			t.Errorf("pull service %s has no image", svc.Name)
		}
		if svc.Build {
			t.Errorf("pull service %s marked as build", svc.Name)
		}
	}
}

func TestResolve_UnknownProfile(t *testing.T) {
	r := NewDefaultProfileResolver()

	_, err := r.Resolve([]string{"core", "bogus"})
	if err == nil {
		t.Fatal("unknown profile should fail")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error should name the unknown profile, got: %v", err)
	}
}

func TestResolve_Empty(t *testing.T) {
	r := NewDefaultProfileResolver()
	if _, err := r.Resolve(nil); err == nil {
		t.Error("empty selection should fail")
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	r := NewDefaultProfileResolver()
	resolved, err := r.Resolve([]string{" Core "})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Profiles[0] != "core" {
		t.Errorf("profiles = %v", resolved.Profiles)
	}
}

func TestKnown_SortedAndComplete(t *testing.T) {
	r := NewDefaultProfileResolver()
	specs := r.Known()

	if len(specs) != 5 {
		t.Errorf("expected 5 built-in profiles, got %d", len(specs))
	}
	for i := 1; i < len(specs); i++ {
		if specs[i-1].Name >= specs[i].Name {
			t.Errorf("profiles not sorted: %s before %s", specs[i-1].Name, specs[i].Name)
		}
	}
	for _, spec := range specs {
		if spec.Description == "" {
			t.Errorf("profile %s has no description", spec.Name)
		}
	}
}
