package fanout

import "time"

// Client→server message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
)

// Server→client message types.
const (
	MsgSubscribed  = "subscribed"
	MsgStateUpdate = "state_update"
	MsgWarning     = "warning"
	MsgError       = "error"
)

// WarnMappingNotFound is sent when entity resolution yields nothing.
// The session is still admitted.
const WarnMappingNotFound = "MAPPING_NOT_FOUND"

// ClientMessage is one inbound session message.
type ClientMessage struct {
	Type string `json:"type"`

	// Subscribe fields.
	DeviceID         string            `json:"deviceId,omitempty"`
	ProfileID        string            `json:"profileId,omitempty"`
	EntityNamePrefix string            `json:"entityNamePrefix,omitempty"`
	EntityMappings   map[string]string `json:"entityMappings,omitempty"`
}

// InitialState is one entry of the bulk state snapshot returned with the
// subscribe acknowledgment.
type InitialState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SubscribedMessage acknowledges a subscribe request.
type SubscribedMessage struct {
	Type          string                  `json:"type"`
	DeviceID      string                  `json:"deviceId"`
	ProfileID     string                  `json:"profileId"`
	Entities      []string                `json:"entities"`
	InitialStates map[string]InitialState `json:"initialStates"`
	HasMappings   bool                    `json:"hasMappings"`
}

// WarningMessage flags a resolvable condition without dropping the
// session.
type WarningMessage struct {
	Type     string `json:"type"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	DeviceID string `json:"deviceId,omitempty"`
}

// StateUpdateMessage carries one filtered upstream change.
type StateUpdateMessage struct {
	Type       string         `json:"type"`
	EntityID   string         `json:"entityId"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ErrorMessage reports a rejected request.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
