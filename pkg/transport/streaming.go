package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// Streaming defaults.
const (
	// DefaultHandshakeTimeout bounds the dial plus auth handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds one correlated command/result pair.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultReconnectDelay is the fixed delay between reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second
)

// ConnState represents the streaming connection state.
type ConnState uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnState = iota

	// StateConnecting indicates the websocket dial is in progress.
	StateConnecting

	// StateAwaitingAuth indicates the dial succeeded and the auth
	// handshake is running.
	StateAwaitingAuth

	// StateReady indicates an authenticated connection.
	StateReady

	// StateClosed indicates the handle has been shut down permanently.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingAuth:
		return "AWAITING_AUTH"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StreamingConfig configures the websocket transport.
type StreamingConfig struct {
	// URL is the websocket endpoint, e.g. "ws://hass.local:8123/api/websocket".
	URL string

	// AccessToken is the long-lived bearer token presented during the
	// auth handshake.
	AccessToken string

	// HandshakeTimeout bounds dial plus auth (default: 10s).
	HandshakeTimeout time.Duration

	// RequestTimeout bounds each correlated command (default: 10s).
	RequestTimeout time.Duration

	// ReconnectDelay is the fixed delay before a reconnect attempt
	// (default: 5s).
	ReconnectDelay time.Duration

	// Dialer overrides the websocket dialer. Nil uses a default dialer
	// bounded by HandshakeTimeout.
	Dialer *websocket.Dialer

	// Logger receives application logs. Nil uses slog.Default().
	Logger *slog.Logger

	// EventLog receives protocol capture events. Nil disables capture.
	EventLog eventlog.Logger

	// Reconnect overrides the reconnect scheduler.
	// Set this in tests to drive reconnection with virtual time.
	Reconnect Scheduler
}

// Streaming is the websocket transport. It owns one persistent
// authenticated connection, correlates outgoing commands with results,
// dispatches inbound state_changed events to local subscribers, and
// reconnects automatically after a drop.
type Streaming struct {
	config StreamingConfig
	logger *slog.Logger
	events eventlog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connID     string
	state      ConnState
	readyCh    chan struct{}
	closed     bool
	subscribed bool

	// nextID is the per-connection correlation id counter.
	// A reconnect invalidates all ids and resets the counter.
	nextID uint64

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *wire.Message

	registry  *registry
	reconnect Scheduler
	wg        sync.WaitGroup
}

// NewStreaming creates a streaming transport. Connect must be called
// before the handle is usable.
func NewStreaming(config StreamingConfig) *Streaming {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var events eventlog.Logger = eventlog.NoopLogger{}
	if config.EventLog != nil {
		events = config.EventLog
	}
	reconnect := config.Reconnect
	if reconnect == nil {
		reconnect = NewDelayScheduler(config.ReconnectDelay)
	}

	return &Streaming{
		config:    config,
		logger:    logger,
		events:    events,
		state:     StateDisconnected,
		readyCh:   make(chan struct{}),
		pending:   make(map[uint64]chan *wire.Message),
		registry:  newRegistry(logger),
		reconnect: reconnect,
	}
}

// Kind reports the backing implementation.
func (s *Streaming) Kind() Kind {
	return KindStreaming
}

// State returns the current connection state.
func (s *Streaming) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the websocket endpoint and runs the auth handshake.
// It resolves only on explicit auth acknowledgment: ErrAuth on rejected
// credentials, ErrTimeout when the handshake makes no progress within
// the configured window, ErrConnection on transport-level failure.
func (s *Streaming) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrConnectionClosed
	}
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.setStateLocked(StateConnecting, "connect")
	s.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.HandshakeTimeout)
		defer cancel()
	}

	dialer := s.config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	}

	conn, _, err := dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		s.transitionTo(StateDisconnected, "dial failed")
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: dial %s", ErrTimeout, s.config.URL)
		}
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, s.config.URL, err)
	}

	s.transitionTo(StateAwaitingAuth, "dialed")

	if err := s.handshake(ctx, conn); err != nil {
		conn.Close()
		s.transitionTo(StateDisconnected, "handshake failed")
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}
	s.conn = conn
	s.connID = uuid.NewString()
	s.nextID = 0
	s.setStateLocked(StateReady, "authenticated")
	close(s.readyCh)
	needSubscribe := s.registry.count() > 0 && !s.subscribed
	if needSubscribe {
		s.subscribed = true
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn)

	// Reissue the upstream event subscription so subscriptions created
	// before a reconnect keep working without caller involvement.
	if needSubscribe {
		go s.subscribeUpstream()
	}

	return nil
}

// handshake waits for the auth challenge, replies with the token, and
// resolves on the server's acknowledgment.
func (s *Streaming) handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(s.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	msg, err := readMessage(conn)
	if err != nil {
		return classifyHandshakeError(err, "awaiting auth challenge")
	}
	if msg.Type != wire.TypeAuthRequired {
		return fmt.Errorf("%w: expected auth_required, got %q", ErrConnection, msg.Type)
	}

	if err := conn.WriteJSON(wire.NewAuth(s.config.AccessToken)); err != nil {
		return fmt.Errorf("%w: sending auth: %v", ErrConnection, err)
	}

	msg, err = readMessage(conn)
	if err != nil {
		return classifyHandshakeError(err, "awaiting auth result")
	}

	switch msg.Type {
	case wire.TypeAuthOK:
		return nil
	case wire.TypeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuth, msg.Message)
	default:
		return fmt.Errorf("%w: unexpected handshake message %q", ErrConnection, msg.Type)
	}
}

// readMessage reads and decodes one message from the connection.
func readMessage(conn *websocket.Conn) (*wire.Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return wire.Decode(data)
}

// classifyHandshakeError maps read failures during the handshake onto
// the transport error taxonomy.
func classifyHandshakeError(err error, phase string) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, phase)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnection, phase, err)
}

// readLoop dispatches inbound messages until the connection drops.
// Running decode and dispatch on this single goroutine preserves
// per-entity event ordering.
func (s *Streaming) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			// Unknown or malformed messages are logged and dropped;
			// they must not crash the dispatch loop.
			s.logger.Warn("dropping message", "error", err)
			s.events.Log(eventlog.Event{
				Timestamp:    time.Now(),
				ConnectionID: s.connectionID(),
				Transport:    string(KindStreaming),
				Direction:    eventlog.DirectionIn,
				Category:     eventlog.CategoryError,
				Error:        &eventlog.ErrorEvent{Message: err.Error(), Context: "decode"},
			})
			continue
		}

		switch msg.Type {
		case wire.TypeResult:
			s.resolvePending(msg)

		case wire.TypeEvent:
			if msg.Event == nil || msg.Event.EventType != wire.EventStateChanged {
				continue
			}
			d := msg.Event.Data
			s.events.Log(eventlog.Event{
				Timestamp:    time.Now(),
				ConnectionID: s.connectionID(),
				Transport:    string(KindStreaming),
				Direction:    eventlog.DirectionIn,
				Category:     eventlog.CategoryMessage,
				Message:      &eventlog.MessageEvent{Type: wire.TypeEvent, EntityID: d.EntityID, Size: len(data)},
			})
			s.registry.dispatch(d.EntityID, d.NewState, d.OldState)

		default:
			s.logger.Debug("ignoring message", "type", msg.Type)
		}
	}
}

// resolvePending routes a result message to the caller waiting on its
// correlation id. Unmatched results are dropped.
func (s *Streaming) resolvePending(msg *wire.Message) {
	s.pendingMu.Lock()
	ch, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug("unmatched result", "id", msg.ID)
		return
	}

	ch <- msg
}

// handleDisconnect reacts to a dropped connection: the ready flag falls,
// all pending requests fail with ErrConnectionClosed, the upstream
// subscription flag clears, and a reconnect is scheduled after the
// fixed delay.
func (s *Streaming) handleDisconnect(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		// Already shut down, or a newer connection took over.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.subscribed = false
	s.readyCh = make(chan struct{})
	s.setStateLocked(StateDisconnected, cause.Error())
	s.mu.Unlock()

	conn.Close()
	s.failPending()

	s.logger.Warn("connection lost, scheduling reconnect",
		"delay", s.config.ReconnectDelay, "error", cause)
	s.reconnect.Start(s.attemptReconnect)
}

// attemptReconnect runs one reconnect attempt and re-arms the fixed
// delay on failure. Auth rejection stops the loop: bad credentials are
// never retried.
func (s *Streaming) attemptReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.HandshakeTimeout)
	err := s.Connect(ctx)
	cancel()

	if err == nil || errors.Is(err, ErrAlreadyConnected) {
		return
	}
	if errors.Is(err, ErrConnectionClosed) {
		return
	}
	if errors.Is(err, ErrAuth) {
		s.logger.Error("reconnect rejected by auth, giving up", "error", err)
		return
	}

	s.logger.Warn("reconnect failed", "error", err)
	s.reconnect.Start(s.attemptReconnect)
}

// failPending fails every in-flight request. Waiters observe a closed
// channel and report ErrConnectionClosed.
func (s *Streaming) failPending() {
	s.pendingMu.Lock()
	for _, ch := range s.pending {
		close(ch)
	}
	s.pending = make(map[uint64]chan *wire.Message)
	s.pendingMu.Unlock()
}

// awaitReady blocks until the channel reaches Ready, the context ends,
// or the handle closes. This is the one suspension point of call other
// than the network itself.
func (s *Streaming) awaitReady(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrConnectionClosed
		}
		if s.state == StateReady {
			s.mu.Unlock()
			return nil
		}
		ready := s.readyCh
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}
}

// call sends one command and waits for its correlated result.
func (s *Streaming) call(ctx context.Context, cmdType string, payload map[string]any) (json.RawMessage, error) {
	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	s.nextID++
	id := s.nextID
	conn := s.conn
	s.mu.Unlock()

	respCh := make(chan *wire.Message, 1)
	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	cmd := wire.Command{ID: id, Type: cmdType, Payload: payload}

	s.writeMu.Lock()
	err := conn.WriteJSON(cmd)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: sending %s: %v", ErrConnection, cmdType, err)
	}

	s.events.Log(eventlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connectionID(),
		Transport:    string(KindStreaming),
		Direction:    eventlog.DirectionOut,
		Category:     eventlog.CategoryMessage,
		Message:      &eventlog.MessageEvent{Type: cmdType, CorrelationID: id},
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.config.RequestTimeout):
		return nil, fmt.Errorf("%w: %s (id %d)", ErrRequestTimeout, cmdType, id)
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("command %s failed: %s (%s)", cmdType, resp.Error.Message, resp.Error.Code)
			}
			return nil, fmt.Errorf("command %s failed", cmdType)
		}
		return resp.Result, nil
	}
}

// subscribeUpstream issues the subscribe_events command. On failure the
// subscribed flag is cleared so a later subscriber retries.
func (s *Streaming) subscribeUpstream() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()

	_, err := s.call(ctx, wire.CmdSubscribeEvents, map[string]any{"event_type": wire.EventStateChanged})
	if err != nil {
		s.logger.Error("subscribing to state changes failed", "error", err)
		s.mu.Lock()
		s.subscribed = false
		s.mu.Unlock()
	}
}

// SubscribeStateChanges registers a local subscription. The first
// subscription triggers one upstream subscribe_events command; later
// ones share it.
func (s *Streaming) SubscribeStateChanges(entityIDs []string, onChange ChangeFunc) (string, error) {
	id := s.registry.add(entityIDs, onChange)

	s.mu.Lock()
	needSubscribe := s.state == StateReady && !s.subscribed
	if needSubscribe {
		s.subscribed = true
	}
	s.mu.Unlock()

	if needSubscribe {
		go s.subscribeUpstream()
	}

	return id, nil
}

// Unsubscribe removes a local subscription.
func (s *Streaming) Unsubscribe(id string) {
	s.registry.remove(id)
}

// GetState fetches the current state of one entity.
func (s *Streaming) GetState(ctx context.Context, entityID string) (*wire.State, error) {
	states, err := s.GetStates(ctx, []string{entityID})
	if err != nil {
		return nil, err
	}
	state, ok := states[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return state, nil
}

// GetStates fetches the given entities. Missing ids are absent from the
// result, never an error.
func (s *Streaming) GetStates(ctx context.Context, entityIDs []string) (map[string]*wire.State, error) {
	all, err := s.GetAllStates(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = struct{}{}
	}

	result := make(map[string]*wire.State, len(entityIDs))
	for _, state := range all {
		if _, ok := wanted[state.EntityID]; ok {
			result[state.EntityID] = state
		}
	}
	return result, nil
}

// GetAllStates fetches every entity state.
func (s *Streaming) GetAllStates(ctx context.Context) ([]*wire.State, error) {
	raw, err := s.call(ctx, wire.CmdGetStates, nil)
	if err != nil {
		return nil, err
	}
	var states []*wire.State
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("decoding states: %w", err)
	}
	return states, nil
}

// CallService invokes a platform service.
func (s *Streaming) CallService(ctx context.Context, domain, service string, data, target map[string]any) error {
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
	_, err := s.call(ctx, wire.CmdCallService, payload)
	return err
}

// ListDevices returns the platform device registry.
func (s *Streaming) ListDevices(ctx context.Context) ([]wire.DeviceEntry, error) {
	raw, err := s.call(ctx, wire.CmdDeviceRegistry, nil)
	if err != nil {
		return nil, err
	}
	var devices []wire.DeviceEntry
	if err := json.Unmarshal(raw, &devices); err != nil {
		return nil, fmt.Errorf("decoding device registry: %w", err)
	}
	return devices, nil
}

// ListEntities returns the platform entity registry.
func (s *Streaming) ListEntities(ctx context.Context) ([]wire.EntityEntry, error) {
	raw, err := s.call(ctx, wire.CmdEntityRegistry, nil)
	if err != nil {
		return nil, err
	}
	var entities []wire.EntityEntry
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("decoding entity registry: %w", err)
	}
	return entities, nil
}

// ListAreas returns the platform area registry.
func (s *Streaming) ListAreas(ctx context.Context) ([]wire.AreaEntry, error) {
	raw, err := s.call(ctx, wire.CmdAreaRegistry, nil)
	if err != nil {
		return nil, err
	}
	var areas []wire.AreaEntry
	if err := json.Unmarshal(raw, &areas); err != nil {
		return nil, fmt.Errorf("decoding area registry: %w", err)
	}
	return areas, nil
}

// Close shuts the transport down permanently. Pending requests fail and
// no reconnection is attempted.
func (s *Streaming) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.setStateLocked(StateClosed, "close")
	s.mu.Unlock()

	s.reconnect.Stop()
	if conn != nil {
		conn.Close()
	}
	s.failPending()
	s.wg.Wait()
	return nil
}

// connectionID returns the id of the current connection, for capture
// events.
func (s *Streaming) connectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// setStateLocked transitions the connection state. Caller holds s.mu.
func (s *Streaming) setStateLocked(next ConnState, reason string) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.logger.Debug("connection state", "old", prev.String(), "new", next.String(), "reason", reason)
	s.events.Log(eventlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Transport:    string(KindStreaming),
		Direction:    eventlog.DirectionNone,
		Category:     eventlog.CategoryState,
		StateChange: &eventlog.StateChangeEvent{
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

// transitionTo acquires the lock and transitions state.
func (s *Streaming) transitionTo(next ConnState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(next, reason)
}
