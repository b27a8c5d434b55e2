package profile

import (
	"errors"
	"fmt"
)

// Profile errors.
var (
	ErrNotFound = errors.New("profile not found")
	ErrInvalid  = errors.New("invalid profile")
)

// Limits is the sensor's coordinate space in millimetres. The sensor
// sits at the origin facing positive Y.
type Limits struct {
	MinX int `yaml:"min_x"`
	MaxX int `yaml:"max_x"`
	MinY int `yaml:"min_y"`
	MaxY int `yaml:"max_y"`
}

// Profile describes one supported device model.
type Profile struct {
	// ID is the short profile identifier, e.g. "epl".
	ID string `yaml:"id"`

	// Name is the human-readable model name.
	Name string `yaml:"name"`

	Manufacturer string `yaml:"manufacturer,omitempty"`

	// ZoneCount is how many configurable detection zones the firmware
	// exposes.
	ZoneCount int `yaml:"zone_count"`

	// ExclusionZoneCount is how many occupancy-mask zones the firmware
	// exposes.
	ExclusionZoneCount int `yaml:"exclusion_zone_count"`

	// TargetCount is how many simultaneous tracking targets the sensor
	// reports.
	TargetCount int `yaml:"target_count"`

	// Limits is the sensor's coordinate space. Meaningful only when the
	// profile has zones or targets.
	Limits Limits `yaml:"limits"`

	// EntitySuffixes lists the non-generated entity-id suffixes this
	// model publishes (occupancy, illuminance, tuning numbers, ...).
	// Zone and target coordinate suffixes are derived from the counts.
	EntitySuffixes []string `yaml:"entity_suffixes"`
}

// Validate checks the profile for internal consistency.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: %s: missing name", ErrInvalid, p.ID)
	}
	if p.ZoneCount < 0 || p.ExclusionZoneCount < 0 || p.TargetCount < 0 {
		return fmt.Errorf("%w: %s: negative count", ErrInvalid, p.ID)
	}
	if p.ZoneCount > 0 || p.TargetCount > 0 {
		if p.Limits.MinX >= p.Limits.MaxX || p.Limits.MinY >= p.Limits.MaxY {
			return fmt.Errorf("%w: %s: degenerate coordinate limits", ErrInvalid, p.ID)
		}
	}
	return nil
}

// ZoneCoordinateSuffixes returns the entity suffixes of the four corner
// coordinates for zone index (1-based).
func (p *Profile) ZoneCoordinateSuffixes(index int) []string {
	return []string{
		fmt.Sprintf("zone_%d_begin_x", index),
		fmt.Sprintf("zone_%d_end_x", index),
		fmt.Sprintf("zone_%d_begin_y", index),
		fmt.Sprintf("zone_%d_end_y", index),
	}
}

// ExclusionZoneCoordinateSuffixes returns the entity suffixes of the
// occupancy-mask coordinates for exclusion zone index (1-based).
func (p *Profile) ExclusionZoneCoordinateSuffixes(index int) []string {
	return []string{
		fmt.Sprintf("occupancy_mask_%d_begin_x", index),
		fmt.Sprintf("occupancy_mask_%d_end_x", index),
		fmt.Sprintf("occupancy_mask_%d_begin_y", index),
		fmt.Sprintf("occupancy_mask_%d_end_y", index),
	}
}

// TargetSuffixes returns the entity suffixes for tracking target index
// (1-based).
func (p *Profile) TargetSuffixes(index int) []string {
	return []string{
		fmt.Sprintf("target_%d_x", index),
		fmt.Sprintf("target_%d_y", index),
		fmt.Sprintf("target_%d_active", index),
	}
}

// AllSuffixes returns every entity suffix the profile implies: the
// explicit list plus the generated zone, exclusion-zone and target
// coordinate suffixes.
func (p *Profile) AllSuffixes() []string {
	suffixes := make([]string, 0, len(p.EntitySuffixes)+4*(p.ZoneCount+p.ExclusionZoneCount)+3*p.TargetCount)
	suffixes = append(suffixes, p.EntitySuffixes...)
	for i := 1; i <= p.ZoneCount; i++ {
		suffixes = append(suffixes, p.ZoneCoordinateSuffixes(i)...)
	}
	for i := 1; i <= p.ExclusionZoneCount; i++ {
		suffixes = append(suffixes, p.ExclusionZoneCoordinateSuffixes(i)...)
	}
	for i := 1; i <= p.TargetCount; i++ {
		suffixes = append(suffixes, p.TargetSuffixes(i)...)
	}
	return suffixes
}
