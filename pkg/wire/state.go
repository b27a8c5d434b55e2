package wire

import "time"

// State is one entity state snapshot as reported by the platform.
// Instances are immutable once decoded; callers must not mutate
// Attributes of a State shared between subscribers.
type State struct {
	// EntityID is the globally unique entity identifier,
	// e.g. "binary_sensor.living_room_occupancy".
	EntityID string `json:"entity_id"`

	// State is the entity's value rendered as a string.
	State string `json:"state"`

	// Attributes carries entity-specific metadata (unit, friendly name,
	// zone coordinates, target positions, ...).
	Attributes map[string]any `json:"attributes,omitempty"`

	// LastChanged is when State last took a new value.
	LastChanged time.Time `json:"last_changed"`

	// LastUpdated is when the state object was last written, including
	// attribute-only updates.
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// DeviceEntry is one row of the platform device registry.
type DeviceEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	NameByUser   string `json:"name_by_user,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	AreaID       string `json:"area_id,omitempty"`
}

// DisplayName returns the user-assigned name if present, otherwise the
// integration-assigned name.
func (d DeviceEntry) DisplayName() string {
	if d.NameByUser != "" {
		return d.NameByUser
	}
	return d.Name
}

// EntityEntry is one row of the platform entity registry.
type EntityEntry struct {
	EntityID   string `json:"entity_id"`
	DeviceID   string `json:"device_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	DisabledBy string `json:"disabled_by,omitempty"`
	AreaID     string `json:"area_id,omitempty"`
}

// AreaEntry is one row of the platform area registry.
type AreaEntry struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}
