// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Profiles
// =============================================================================

// ServiceSpec describes one deployable service of the stack.
type ServiceSpec struct {
	// Name is the compose service name.
	Name string

	// Image is the registry image, empty for locally-built services.
	Image string

	// Build marks services built from a local Dockerfile instead of
	// pulled from a registry.
	Build bool

	// DependsOn lists services that must be defined alongside this one.
	DependsOn []string
}

// ProfileSpec is a named bundle of services.
type ProfileSpec struct {
	// Name is the profile identifier.
	Name string

	// Description is a human-readable profile description.
	Description string

	// Services are the services this profile contributes.
	Services []ServiceSpec

	// Requires lists profiles that are implied by this one.
	Requires []string

	// OverlayFile is the compose overlay layered for this profile,
	// empty when the base file already covers it.
	OverlayFile string
}

// builtInProfiles is the single source of truth for what each profile
// deploys. Service names and images match the compose definitions.
var builtInProfiles = map[string]*ProfileSpec{
	"core": {
		Name:        "core",
		Description: "Kaspa node with the public REST API",
		Services: []ServiceSpec{
			{Name: "kaspa-node", Image: "supertypo/rusty-kaspad:latest"},
			{Name: "kaspa-rest-server", Image: "kaspanet/kaspa-rest-server:latest", DependsOn: []string{"kaspa-node"}},
		},
	},
	"indexer": {
		Name:        "indexer",
		Description: "Block/transaction indexer with PostgreSQL storage",
		Requires:    []string{"core"},
		OverlayFile: "docker-compose.indexer.yml",
		Services: []ServiceSpec{
			{Name: "kaspa-db", Image: "postgres:16-alpine"},
			{Name: "kaspa-indexer", Image: "supertypo/simply-kaspa-indexer:latest", DependsOn: []string{"kaspa-node", "kaspa-db"}},
		},
	},
	"explorer": {
		Name:        "explorer",
		Description: "Block explorer web UI backed by the indexer",
		Requires:    []string{"indexer"},
		OverlayFile: "docker-compose.explorer.yml",
		Services: []ServiceSpec{
			{Name: "kaspa-explorer", Image: "kaspanet/kaspa-explorer:latest", DependsOn: []string{"kaspa-rest-server"}},
		},
	},
	"dashboard": {
		Name:        "dashboard",
		Description: "Local monitoring dashboard (built from source)",
		Requires:    []string{"core"},
		OverlayFile: "docker-compose.dashboard.yml",
		Services: []ServiceSpec{
			{Name: "dashboard", Build: true, DependsOn: []string{"kaspa-rest-server"}},
		},
	},
	"full": {
		Name:        "full",
		Description: "Everything: node, indexer, explorer, and dashboard",
		Requires:    []string{"core", "indexer", "explorer", "dashboard"},
	},
}

// =============================================================================
// Resolver
// =============================================================================

// ResolvedProfiles is the expansion of a profile selection.
type ResolvedProfiles struct {
	// Profiles are the effective profile names after dependency
	// expansion, in deterministic order.
	Profiles []string

	// Services are the deduplicated services to deploy, dependencies
	// before dependents.
	Services []ServiceSpec

	// OverlayFiles are the compose overlays to layer over the base
	// file, in profile order.
	OverlayFiles []string
}

// PullServices returns the services that need a registry pull.
func (r *ResolvedProfiles) PullServices() []ServiceSpec {
	var out []ServiceSpec
	for _, svc := range r.Services {
		if !svc.Build {
			out = append(out, svc)
		}
	}
	return out
}

// BuildServices returns the services built locally.
func (r *ResolvedProfiles) BuildServices() []ServiceSpec {
	var out []ServiceSpec
	for _, svc := range r.Services {
		if svc.Build {
			out = append(out, svc)
		}
	}
	return out
}

// ServiceNames returns the names of all resolved services.
func (r *ResolvedProfiles) ServiceNames() []string {
	names := make([]string, len(r.Services))
	for i, svc := range r.Services {
		names[i] = svc.Name
	}
	return names
}

// ProfileResolver expands profile selections into concrete services.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ProfileResolver interface {
	// Resolve expands the selection, following Requires edges and
	// deduplicating services. Unknown profile names are an error.
	Resolve(names []string) (*ResolvedProfiles, error)

	// Known returns all selectable profile specs, sorted by name.
	Known() []*ProfileSpec
}

// DefaultProfileResolver implements ProfileResolver over the built-in
// profile table.
type DefaultProfileResolver struct{}

// NewDefaultProfileResolver creates a resolver over the built-in
// profiles.
func NewDefaultProfileResolver() *DefaultProfileResolver {
	return &DefaultProfileResolver{}
}

// Resolve expands the selection into services and overlay files.
//
// # Description
//
// Follows Requires edges transitively, so selecting "explorer" pulls
// in "indexer" and "core". Service order puts dependencies before
// dependents so deploy output reads naturally; compose itself handles
// actual start ordering.
func (r *DefaultProfileResolver) Resolve(names []string) (*ResolvedProfiles, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one profile is required")
	}

	seen := map[string]bool{}
	var ordered []string

	var visit func(name string) error
	visit = func(name string) error {
		name = strings.TrimSpace(strings.ToLower(name))
		if seen[name] {
			return nil
		}

		spec, ok := builtInProfiles[name]
		if !ok {
			return fmt.Errorf("unknown profile: %s (known: %s)", name, strings.Join(knownProfileNames(), ", "))
		}
		seen[name] = true

		for _, req := range spec.Requires {
			if err := visit(req); err != nil {
				return err
			}
		}
		ordered = append(ordered, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	resolved := &ResolvedProfiles{Profiles: ordered}

	serviceSeen := map[string]bool{}
	for _, name := range ordered {
		spec := builtInProfiles[name]
		if spec.OverlayFile != "" {
			resolved.OverlayFiles = append(resolved.OverlayFiles, spec.OverlayFile)
		}
		for _, svc := range spec.Services {
			if serviceSeen[svc.Name] {
				continue
			}
			serviceSeen[svc.Name] = true
			resolved.Services = append(resolved.Services, svc)
		}
	}

	return resolved, nil
}

// Known returns all selectable profile specs, sorted by name.
func (r *DefaultProfileResolver) Known() []*ProfileSpec {
	specs := make([]*ProfileSpec, 0, len(builtInProfiles))
	for _, spec := range builtInProfiles {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func knownProfileNames() []string {
	names := make([]string, 0, len(builtInProfiles))
	for name := range builtInProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile-time interface compliance check.
var _ ProfileResolver = (*DefaultProfileResolver)(nil)
