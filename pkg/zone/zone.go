package zone

import (
	"errors"
	"fmt"
	"time"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/profile"
)

// Zone errors.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrZoneNotFound     = errors.New("zone not found")
	ErrMaxZonesExceeded = errors.New("maximum zones exceeded")
	ErrInvalidGeometry  = errors.New("invalid zone geometry")
)

// Kind distinguishes detection zones from exclusion (occupancy mask)
// zones.
type Kind string

const (
	// KindDetection marks a zone that reports occupancy.
	KindDetection Kind = "detection"

	// KindExclusion marks a zone whose targets are masked out.
	KindExclusion Kind = "exclusion"
)

// Rect is an axis-aligned rectangle in sensor millimetres.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Normalized returns the rectangle with X1 <= X2 and Y1 <= Y2.
func (r Rect) Normalized() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Width returns the horizontal extent in millimetres.
func (r Rect) Width() int {
	n := r.Normalized()
	return n.X2 - n.X1
}

// Height returns the vertical extent in millimetres.
func (r Rect) Height() int {
	n := r.Normalized()
	return n.Y2 - n.Y1
}

// Validate checks the rectangle against the sensor's coordinate limits.
func (r Rect) Validate(limits profile.Limits) error {
	n := r.Normalized()
	if n.X1 == n.X2 || n.Y1 == n.Y2 {
		return fmt.Errorf("%w: zero-area rectangle", ErrInvalidGeometry)
	}
	if n.X1 < limits.MinX || n.X2 > limits.MaxX || n.Y1 < limits.MinY || n.Y2 > limits.MaxY {
		return fmt.Errorf("%w: rectangle (%d,%d)-(%d,%d) outside sensor range x[%d,%d] y[%d,%d]",
			ErrInvalidGeometry, n.X1, n.Y1, n.X2, n.Y2,
			limits.MinX, limits.MaxX, limits.MinY, limits.MaxY)
	}
	return nil
}

// Room groups the zones of one physical device installation.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DeviceID  string    `json:"deviceId"`
	ProfileID string    `json:"profileId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Zone is one configured rectangle within a room. Slot is the 1-based
// firmware slot the zone occupies; slots are unique per room and kind.
type Zone struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Slot      int       `json:"slot"`
	Rect      Rect      `json:"rect"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
