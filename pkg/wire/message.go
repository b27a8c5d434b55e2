package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Server→client message types.
const (
	TypeAuthRequired = "auth_required"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeResult       = "result"
	TypeEvent        = "event"
)

// Client→server command types used by the transport layer.
const (
	CmdAuth            = "auth"
	CmdSubscribeEvents = "subscribe_events"
	CmdGetStates       = "get_states"
	CmdCallService     = "call_service"
	CmdDeviceRegistry  = "config/device_registry/list"
	CmdEntityRegistry  = "config/entity_registry/list"
	CmdAreaRegistry    = "config/area_registry/list"
)

// EventStateChanged is the only event type the transport subscribes to.
const EventStateChanged = "state_changed"

// Decode errors.
var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Message is one decoded server→client websocket message. Type selects
// which of the optional fields are meaningful.
type Message struct {
	Type string `json:"type"`

	// ID correlates result messages with the command that caused them.
	ID uint64 `json:"id,omitempty"`

	// HAVersion is reported with auth_required and auth_ok.
	HAVersion string `json:"ha_version,omitempty"`

	// Message is the human-readable reason on auth_invalid.
	Message string `json:"message,omitempty"`

	// Success and Result are set on result messages.
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResultError    `json:"error,omitempty"`

	// Event is set on event messages.
	Event *Event `json:"event,omitempty"`
}

// ResultError is the error object attached to a failed result.
type ResultError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Event is the payload of an event message.
type Event struct {
	EventType string           `json:"event_type"`
	Data      StateChangedData `json:"data"`
	TimeFired time.Time        `json:"time_fired,omitempty"`
}

// StateChangedData carries the old and new state of a changed entity.
// OldState is nil when the entity first appears; NewState is nil when
// the entity is removed.
type StateChangedData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

// Decode parses one raw server→client message. It returns ErrUnknownType
// (wrapped) for types outside the closed set so the caller can log and
// drop, and ErrMalformed (wrapped) when the JSON does not parse.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeAuthRequired, TypeAuthOK, TypeAuthInvalid, TypeResult, TypeEvent:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// Auth is the client's reply to an auth_required challenge.
type Auth struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// NewAuth builds the auth reply for the given token.
func NewAuth(token string) Auth {
	return Auth{Type: CmdAuth, AccessToken: token}
}

// Command is a client→server command. Payload fields are merged into the
// top-level JSON object next to id and type, as the protocol requires.
type Command struct {
	ID      uint64
	Type    string
	Payload map[string]any
}

// MarshalJSON flattens the payload into the envelope.
func (c Command) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(c.Payload)+2)
	for k, v := range c.Payload {
		obj[k] = v
	}
	obj["id"] = c.ID
	obj["type"] = c.Type
	return json.Marshal(obj)
}

// SubscribeEvents builds the command that subscribes this connection to
// state_changed events.
func SubscribeEvents(id uint64) Command {
	return Command{
		ID:      id,
		Type:    CmdSubscribeEvents,
		Payload: map[string]any{"event_type": EventStateChanged},
	}
}

// CallService builds a service call command. data and target may be nil.
func CallService(id uint64, domain, service string, data, target map[string]any) Command {
	payload := map[string]any{
		"domain":  domain,
		"service": service,
	}
	if len(data) > 0 {
		payload["service_data"] = data
	}
	if len(target) > 0 {
		payload["target"] = target
	}
	return Command{ID: id, Type: CmdCallService, Payload: payload}
}
