package eventlog

import "time"

// Event represents one captured transport event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection or session (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Transport names the channel that produced the event
	// ("websocket", "rest", "fanout").
	Transport string `cbor:"3,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Remote is the peer address or URL.
	Remote string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"7,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"8,keyasint,omitempty"`
	Error       *ErrorEvent       `cbor:"9,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionNone indicates a local event with no flow direction.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (command/result/event).
	CategoryMessage Category = 0
	// CategoryState indicates a connection state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a protocol message at the wire layer.
type MessageEvent struct {
	// Type is the wire message type ("result", "event", "subscribe", ...).
	Type string `cbor:"1,keyasint"`

	// CorrelationID links command/result pairs (0 when not correlated).
	CorrelationID uint64 `cbor:"2,keyasint,omitempty"`

	// EntityID is set for state change deliveries.
	EntityID string `cbor:"3,keyasint,omitempty"`

	// Size is the encoded message size in bytes.
	Size int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures a connection lifecycle transition.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent captures errors at any layer.
type ErrorEvent struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}
