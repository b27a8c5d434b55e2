package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/profile"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// Hints carries optional resolution overrides supplied by a fan-out
// session's subscribe request.
type Hints struct {
	// NamePrefix restricts matching to entities whose object id starts
	// with the given prefix. Useful when several devices of the same
	// model share an installation.
	NamePrefix string

	// Mappings maps logical names to explicit entity ids. Mapped ids are
	// included verbatim, bypassing registry matching.
	Mappings map[string]string
}

// Resolver computes the entity ids relevant to one device/profile pair.
type Resolver interface {
	// ResolveEntities returns the resolved entity ids. An empty result
	// with a nil error means no mapping was found; callers decide whether
	// that is a warning or an error.
	ResolveEntities(ctx context.Context, deviceID, profileID string, hints Hints) ([]string, error)
}

// Lister is the slice of the transport surface the resolver needs.
type Lister interface {
	ListEntities(ctx context.Context) ([]wire.EntityEntry, error)
}

// RegistryResolver resolves entities through the platform's entity
// registry and the device profile's suffix set.
type RegistryResolver struct {
	lister   Lister
	profiles *profile.Registry
	logger   *slog.Logger
}

// NewRegistryResolver creates a registry-backed resolver.
func NewRegistryResolver(lister Lister, profiles *profile.Registry, logger *slog.Logger) *RegistryResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryResolver{lister: lister, profiles: profiles, logger: logger}
}

var _ Resolver = (*RegistryResolver)(nil)

// ResolveEntities joins the entity registry against the profile's
// suffixes. Candidates are the entities registered to the device, or,
// when a name prefix hint is given, entities whose object id carries
// that prefix. Explicit mapping hints are honored verbatim.
func (r *RegistryResolver) ResolveEntities(ctx context.Context, deviceID, profileID string, hints Hints) ([]string, error) {
	p, err := r.profiles.Get(profileID)
	if err != nil {
		return nil, fmt.Errorf("resolving device %s: %w", deviceID, err)
	}

	entries, err := r.lister.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	candidates := make([]wire.EntityEntry, 0, len(entries))
	for _, e := range entries {
		if hints.NamePrefix != "" {
			if strings.HasPrefix(objectID(e.EntityID), hints.NamePrefix) {
				candidates = append(candidates, e)
			}
			continue
		}
		if e.DeviceID == deviceID {
			candidates = append(candidates, e)
		}
	}

	resolved := make(map[string]struct{})
	for _, suffix := range p.AllSuffixes() {
		for _, e := range candidates {
			if matchesSuffix(objectID(e.EntityID), suffix) {
				resolved[e.EntityID] = struct{}{}
			}
		}
	}

	for _, id := range hints.Mappings {
		if id != "" {
			resolved[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(resolved))
	for id := range resolved {
		out = append(out, id)
	}
	sort.Strings(out)

	if len(out) == 0 {
		r.logger.Warn("no entities resolved",
			"device_id", deviceID, "profile_id", profileID,
			"candidates", len(candidates))
	}
	return out, nil
}

// objectID strips the domain from an entity id:
// "sensor.hallway_target_1_x" -> "hallway_target_1_x".
func objectID(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}

// matchesSuffix reports whether the object id equals the suffix or ends
// with it at a word boundary.
func matchesSuffix(objID, suffix string) bool {
	return objID == suffix || strings.HasSuffix(objID, "_"+suffix)
}
