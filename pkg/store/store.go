package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/zone"
)

// ErrSettingNotFound indicates the requested setting key has no value.
var ErrSettingNotFound = errors.New("setting not found")

// Store provides SQLite persistence for rooms, zones and settings.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a store at the given database path.
// Use ":memory:" for an in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		device_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS zones (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		slot INTEGER NOT NULL,
		x1 INTEGER NOT NULL,
		y1 INTEGER NOT NULL,
		x2 INTEGER NOT NULL,
		y2 INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(room_id, kind, slot)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_zones_room_id ON zones(room_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRoom inserts a room.
func (s *Store) CreateRoom(room *zone.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO rooms (id, name, device_id, profile_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, room.ID, room.Name, room.DeviceID, room.ProfileID, room.CreatedAt, room.UpdatedAt)
	return err
}

// GetRoom retrieves a room by id.
func (s *Store) GetRoom(id string) (*zone.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var room zone.Room
	err := s.db.QueryRow(`
		SELECT id, name, device_id, profile_id, created_at, updated_at
		FROM rooms WHERE id = ?
	`, id).Scan(&room.ID, &room.Name, &room.DeviceID, &room.ProfileID, &room.CreatedAt, &room.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, zone.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms retrieves all rooms ordered by name.
func (s *Store) ListRooms() ([]*zone.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, device_id, profile_id, created_at, updated_at
		FROM rooms ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*zone.Room
	for rows.Next() {
		var room zone.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.DeviceID, &room.ProfileID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

// DeleteRoom deletes a room; its zones cascade.
func (s *Store) DeleteRoom(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return zone.ErrRoomNotFound
	}
	return nil
}

// CreateZone inserts a zone.
func (s *Store) CreateZone(z *zone.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO zones (id, room_id, name, kind, slot, x1, y1, x2, y2, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, z.ID, z.RoomID, z.Name, string(z.Kind), z.Slot,
		z.Rect.X1, z.Rect.Y1, z.Rect.X2, z.Rect.Y2, z.CreatedAt, z.UpdatedAt)
	return err
}

// GetZone retrieves a zone by id.
func (s *Store) GetZone(id string) (*zone.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, err := scanZone(s.db.QueryRow(`
		SELECT id, room_id, name, kind, slot, x1, y1, x2, y2, created_at, updated_at
		FROM zones WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, zone.ErrZoneNotFound
	}
	return z, err
}

// ListZones retrieves all zones of a room ordered by kind then slot.
func (s *Store) ListZones(roomID string) ([]*zone.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, room_id, name, kind, slot, x1, y1, x2, y2, created_at, updated_at
		FROM zones WHERE room_id = ? ORDER BY kind, slot
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []*zone.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// UpdateZone updates a zone's mutable fields.
func (s *Store) UpdateZone(z *zone.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE zones SET name = ?, x1 = ?, y1 = ?, x2 = ?, y2 = ?, updated_at = ?
		WHERE id = ?
	`, z.Name, z.Rect.X1, z.Rect.Y1, z.Rect.X2, z.Rect.Y2, z.UpdatedAt, z.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return zone.ErrZoneNotFound
	}
	return nil
}

// DeleteZone deletes a zone by id.
func (s *Store) DeleteZone(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM zones WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return zone.ErrZoneNotFound
	}
	return nil
}

// SetSetting stores one key/value setting, replacing any previous value.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetSetting retrieves one setting value.
func (s *Store) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	return value, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanZone(row rowScanner) (*zone.Zone, error) {
	var z zone.Zone
	var kind string
	err := row.Scan(&z.ID, &z.RoomID, &z.Name, &kind, &z.Slot,
		&z.Rect.X1, &z.Rect.Y1, &z.Rect.X2, &z.Rect.Y2, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return nil, err
	}
	z.Kind = zone.Kind(kind)
	return &z, nil
}

// Compile-time interface satisfaction check.
var _ zone.Store = (*Store)(nil)
