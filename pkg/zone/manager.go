package zone

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/profile"
)

// Store is the persistence surface the manager needs.
type Store interface {
	CreateRoom(room *Room) error
	GetRoom(id string) (*Room, error)
	ListRooms() ([]*Room, error)
	DeleteRoom(id string) error

	CreateZone(zone *Zone) error
	GetZone(id string) (*Zone, error)
	ListZones(roomID string) ([]*Zone, error)
	UpdateZone(zone *Zone) error
	DeleteZone(id string) error
}

// ServiceCaller is the slice of the transport surface the manager uses
// to push geometry to the device.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data, target map[string]any) error
}

// Manager owns room and zone CRUD and applies zone geometry to devices.
type Manager struct {
	store    Store
	caller   ServiceCaller
	profiles *profile.Registry
	logger   *slog.Logger
}

// NewManager creates a zone manager.
func NewManager(store Store, caller ServiceCaller, profiles *profile.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, caller: caller, profiles: profiles, logger: logger}
}

// CreateRoom registers a room for a device. The profile must be known.
func (m *Manager) CreateRoom(name, deviceID, profileID string) (*Room, error) {
	if _, err := m.profiles.Get(profileID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	room := &Room{
		ID:        uuid.NewString(),
		Name:      name,
		DeviceID:  deviceID,
		ProfileID: profileID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateRoom(room); err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}
	return room, nil
}

// GetRoom returns one room.
func (m *Manager) GetRoom(id string) (*Room, error) {
	return m.store.GetRoom(id)
}

// ListRooms returns all rooms.
func (m *Manager) ListRooms() ([]*Room, error) {
	return m.store.ListRooms()
}

// DeleteRoom removes a room and its zones.
func (m *Manager) DeleteRoom(id string) error {
	return m.store.DeleteRoom(id)
}

// AddZone adds a zone to a room, validating the geometry against the
// room's profile and assigning the lowest free firmware slot.
func (m *Manager) AddZone(roomID, name string, kind Kind, rect Rect) (*Zone, error) {
	room, err := m.store.GetRoom(roomID)
	if err != nil {
		return nil, err
	}
	p, err := m.profiles.Get(room.ProfileID)
	if err != nil {
		return nil, err
	}

	if err := rect.Validate(p.Limits); err != nil {
		return nil, err
	}

	existing, err := m.store.ListZones(roomID)
	if err != nil {
		return nil, err
	}

	limit := p.ZoneCount
	if kind == KindExclusion {
		limit = p.ExclusionZoneCount
	}
	slot, ok := freeSlot(existing, kind, limit)
	if !ok {
		return nil, fmt.Errorf("%w: profile %s allows %d %s zones", ErrMaxZonesExceeded, p.ID, limit, kind)
	}

	now := time.Now().UTC()
	zone := &Zone{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Name:      name,
		Kind:      kind,
		Slot:      slot,
		Rect:      rect.Normalized(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateZone(zone); err != nil {
		return nil, fmt.Errorf("creating zone: %w", err)
	}
	return zone, nil
}

// UpdateZone replaces a zone's name and rectangle. Kind and slot are
// fixed at creation.
func (m *Manager) UpdateZone(zoneID, name string, rect Rect) (*Zone, error) {
	zone, err := m.store.GetZone(zoneID)
	if err != nil {
		return nil, err
	}
	room, err := m.store.GetRoom(zone.RoomID)
	if err != nil {
		return nil, err
	}
	p, err := m.profiles.Get(room.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := rect.Validate(p.Limits); err != nil {
		return nil, err
	}

	zone.Name = name
	zone.Rect = rect.Normalized()
	zone.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateZone(zone); err != nil {
		return nil, fmt.Errorf("updating zone: %w", err)
	}
	return zone, nil
}

// RemoveZone deletes a zone.
func (m *Manager) RemoveZone(zoneID string) error {
	return m.store.DeleteZone(zoneID)
}

// ListZones returns a room's zones ordered by kind then slot.
func (m *Manager) ListZones(roomID string) ([]*Zone, error) {
	zones, err := m.store.ListZones(roomID)
	if err != nil {
		return nil, err
	}
	sort.Slice(zones, func(i, j int) bool {
		if zones[i].Kind != zones[j].Kind {
			return zones[i].Kind < zones[j].Kind
		}
		return zones[i].Slot < zones[j].Slot
	})
	return zones, nil
}

// ApplyZones writes a room's zone geometry to the device. entityPrefix
// is the device's entity object-id prefix (e.g. "hallway_epl"); each
// coordinate goes to one number entity via number.set_value. Slots
// without a configured zone are zeroed so stale firmware rectangles do
// not linger.
func (m *Manager) ApplyZones(ctx context.Context, roomID, entityPrefix string) error {
	room, err := m.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	p, err := m.profiles.Get(room.ProfileID)
	if err != nil {
		return err
	}
	zones, err := m.store.ListZones(roomID)
	if err != nil {
		return err
	}

	bySlot := make(map[Kind]map[int]*Zone)
	for _, z := range zones {
		if bySlot[z.Kind] == nil {
			bySlot[z.Kind] = make(map[int]*Zone)
		}
		bySlot[z.Kind][z.Slot] = z
	}

	write := func(slotSuffixes []string, rect Rect) error {
		n := rect.Normalized()
		values := []int{n.X1, n.X2, n.Y1, n.Y2} // begin_x, end_x, begin_y, end_y
		for i, suffix := range slotSuffixes {
			entityID := "number." + entityPrefix + "_" + suffix
			err := m.caller.CallService(ctx, "number", "set_value",
				map[string]any{"value": values[i]},
				map[string]any{"entity_id": entityID})
			if err != nil {
				return fmt.Errorf("writing %s: %w", entityID, err)
			}
		}
		return nil
	}

	for slot := 1; slot <= p.ZoneCount; slot++ {
		var rect Rect
		if z := bySlot[KindDetection][slot]; z != nil {
			rect = z.Rect
		}
		if err := write(p.ZoneCoordinateSuffixes(slot), rect); err != nil {
			return err
		}
	}
	for slot := 1; slot <= p.ExclusionZoneCount; slot++ {
		var rect Rect
		if z := bySlot[KindExclusion][slot]; z != nil {
			rect = z.Rect
		}
		if err := write(p.ExclusionZoneCoordinateSuffixes(slot), rect); err != nil {
			return err
		}
	}

	m.logger.Info("zones applied",
		"room_id", roomID, "device_id", room.DeviceID, "zones", len(zones))
	return nil
}

// freeSlot returns the lowest unoccupied slot for the kind, 1-based.
func freeSlot(zones []*Zone, kind Kind, limit int) (int, bool) {
	taken := make(map[int]bool)
	for _, z := range zones {
		if z.Kind == kind {
			taken[z.Slot] = true
		}
	}
	for slot := 1; slot <= limit; slot++ {
		if !taken[slot] {
			return slot, true
		}
	}
	return 0, false
}
