package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/entity"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// session is one connected websocket client. Writes are serialized by
// writeMu; the interest set is guarded by mu and consulted on every
// upstream dispatch.
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	interest  map[string]struct{}
	deviceID  string
	profileID string
	closed    bool
}

func newSession(server *Server, conn *websocket.Conn) *session {
	return &session{
		id:     uuid.New().String(),
		server: server,
		conn:   conn,
	}
}

// readLoop processes inbound messages until the connection drops.
func (s *session) readLoop() {
	defer func() {
		s.close()
		s.server.removeSession(s.id)
	}()

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.server.logger.Debug("session read failed", "session", s.id, "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgSubscribe:
			s.handleSubscribe(msg)
		case MsgUnsubscribe:
			s.handleUnsubscribe()
		default:
			s.writeError(fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}
}

// handleSubscribe resolves the device's entities, snapshots their
// current states and installs the interest set. An empty resolution is
// admitted with a warning so the client can surface a setup hint
// instead of failing outright.
func (s *session) handleSubscribe(msg ClientMessage) {
	if msg.DeviceID == "" || msg.ProfileID == "" {
		s.writeError("subscribe requires deviceId and profileId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.server.config.SubscribeTimeout)
	defer cancel()

	hints := entity.Hints{
		NamePrefix: msg.EntityNamePrefix,
		Mappings:   msg.EntityMappings,
	}
	entities, err := s.server.config.Resolver.ResolveEntities(ctx, msg.DeviceID, msg.ProfileID, hints)
	if err != nil {
		s.writeError(fmt.Sprintf("resolving entities for %s: %s", msg.DeviceID, err))
		return
	}

	hasMappings := len(entities) > 0
	if !hasMappings {
		s.writeJSON(WarningMessage{
			Type:     MsgWarning,
			Code:     WarnMappingNotFound,
			Message:  fmt.Sprintf("no entities found for device %s with profile %s", msg.DeviceID, msg.ProfileID),
			DeviceID: msg.DeviceID,
		})
	}

	initial := make(map[string]InitialState, len(entities))
	if hasMappings {
		states, err := s.server.config.Transport.GetStates(ctx, entities)
		if err != nil {
			// The live stream still works without the snapshot.
			s.server.logger.Warn("initial state fetch failed",
				"session", s.id, "device", msg.DeviceID, "error", err)
		}
		for id, st := range states {
			initial[id] = InitialState{State: st.State, Attributes: st.Attributes}
		}
	}

	interest := make(map[string]struct{}, len(entities))
	for _, id := range entities {
		interest[id] = struct{}{}
	}

	s.mu.Lock()
	s.interest = interest
	s.deviceID = msg.DeviceID
	s.profileID = msg.ProfileID
	s.mu.Unlock()

	s.server.logger.Info("session subscribed",
		"session", s.id, "device", msg.DeviceID, "profile", msg.ProfileID, "entities", len(entities))
	s.server.events.Log(eventlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Transport:    "fanout",
		Direction:    eventlog.DirectionIn,
		Category:     eventlog.CategoryMessage,
		Message:      &eventlog.MessageEvent{Type: MsgSubscribe, EntityID: msg.DeviceID},
	})

	s.writeJSON(SubscribedMessage{
		Type:          MsgSubscribed,
		DeviceID:      msg.DeviceID,
		ProfileID:     msg.ProfileID,
		Entities:      entities,
		InitialStates: initial,
		HasMappings:   hasMappings,
	})
}

func (s *session) handleUnsubscribe() {
	s.mu.Lock()
	s.interest = nil
	s.deviceID = ""
	s.profileID = ""
	s.mu.Unlock()
}

// deliver forwards one upstream change if the session's interest set
// contains the entity.
func (s *session) deliver(entityID string, newState *wire.State) {
	s.mu.Lock()
	_, interested := s.interest[entityID]
	closed := s.closed
	s.mu.Unlock()
	if !interested || closed {
		return
	}

	ts := newState.LastUpdated
	if ts.IsZero() {
		ts = newState.LastChanged
	}
	s.writeJSON(StateUpdateMessage{
		Type:       MsgStateUpdate,
		EntityID:   entityID,
		State:      newState.State,
		Attributes: newState.Attributes,
		Timestamp:  ts,
	})
}

func (s *session) writeError(text string) {
	s.writeJSON(ErrorMessage{Type: MsgError, Error: text})
}

func (s *session) writeJSON(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.server.logger.Debug("session write failed", "session", s.id, "error", err)
	}
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.conn.Close()
}
