// Package api provides the HTTP handlers for the presence add-on
// frontend: room and zone CRUD, profile listing and platform discovery.
package api

import (
	"github.com/Migushthe2nd/everything-presence-addons/pkg/zone"
)

// CreateRoomRequest is the body for POST /api/v1/rooms.
type CreateRoomRequest struct {
	Name      string `json:"name"`
	DeviceID  string `json:"deviceId"`
	ProfileID string `json:"profileId"`
}

// CreateZoneRequest is the body for POST /api/v1/rooms/:id/zones.
type CreateZoneRequest struct {
	Name string    `json:"name"`
	Kind zone.Kind `json:"kind"`
	Rect zone.Rect `json:"rect"`
}

// UpdateZoneRequest is the body for PUT /api/v1/zones/:id.
type UpdateZoneRequest struct {
	Name string    `json:"name"`
	Rect zone.Rect `json:"rect"`
}

// ApplyRequest is the body for POST /api/v1/rooms/:id/apply.
type ApplyRequest struct {
	// EntityPrefix is the device's entity object-id prefix,
	// e.g. "hallway_epl".
	EntityPrefix string `json:"entityPrefix"`
}

// RoomListResponse is the response for GET /api/v1/rooms.
type RoomListResponse struct {
	Rooms []*zone.Room `json:"rooms"`
	Total int          `json:"total"`
}

// ZoneListResponse is the response for GET /api/v1/rooms/:id/zones.
type ZoneListResponse struct {
	Zones []*zone.Zone `json:"zones"`
	Total int          `json:"total"`
}

// ProfileSummary is one device profile in API responses.
type ProfileSummary struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Manufacturer       string `json:"manufacturer,omitempty"`
	ZoneCount          int    `json:"zoneCount"`
	ExclusionZoneCount int    `json:"exclusionZoneCount"`
	TargetCount        int    `json:"targetCount"`
}

// ProfileListResponse is the response for GET /api/v1/profiles.
type ProfileListResponse struct {
	Profiles []ProfileSummary `json:"profiles"`
	Total    int              `json:"total"`
}

// DiscoveredInstance is one mDNS discovery result.
type DiscoveredInstance struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Version      string `json:"version,omitempty"`
	LocationName string `json:"locationName,omitempty"`
}

// DiscoverResponse is the response for GET /api/v1/discover.
type DiscoverResponse struct {
	Instances []DiscoveredInstance `json:"instances"`
	Total     int                  `json:"total"`
}
