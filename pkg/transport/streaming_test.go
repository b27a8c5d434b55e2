package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

const testToken = "llat-test-token"

// serverConn wraps one accepted websocket connection with a write lock
// so the command loop and test-driven pushes do not interleave frames.
type serverConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *serverConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *serverConn) writeResult(id uint64, result any) error {
	return c.writeJSON(map[string]any{
		"id":      id,
		"type":    "result",
		"success": true,
		"result":  result,
	})
}

// fakeHass emulates the platform's websocket endpoint: auth handshake,
// then a command loop answering subscribe_events, get_states and
// call_service.
type fakeHass struct {
	t     *testing.T
	token string
	srv   *httptest.Server

	// onCommand, when set, may take over handling of a command.
	// Returning true suppresses the default reply.
	onCommand func(c *serverConn, id uint64, cmdType string, cmd map[string]any) bool

	// skipChallenge makes the handler accept the upgrade but never send
	// auth_required, to exercise handshake timeouts.
	skipChallenge bool

	mu         sync.Mutex
	conns      []*serverConn
	subscribes int
	calls      []map[string]any
	states     []*wire.State
}

func newFakeHass(t *testing.T) *fakeHass {
	t.Helper()
	f := &fakeHass{t: t, token: testToken}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeHass) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeHass) setStates(states ...*wire.State) {
	f.mu.Lock()
	f.states = states
	f.mu.Unlock()
}

func (f *fakeHass) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeHass) lastConn() *serverConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// dropAll closes every accepted connection from the server side.
func (f *fakeHass) dropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

// pushEvent emits a state_changed event on the latest connection.
func (f *fakeHass) pushEvent(newState, oldState *wire.State) {
	c := f.lastConn()
	if c == nil {
		f.t.Fatal("no active connection to push on")
	}
	err := c.writeJSON(map[string]any{
		"type": "event",
		"event": map[string]any{
			"event_type": "state_changed",
			"data": map[string]any{
				"entity_id": newState.EntityID,
				"new_state": newState,
				"old_state": oldState,
			},
		},
	})
	if err != nil {
		f.t.Logf("push failed: %v", err)
	}
}

func (f *fakeHass) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &serverConn{conn: raw}

	if f.skipChallenge {
		// Hold the connection open without ever speaking.
		for {
			if _, _, err := raw.ReadMessage(); err != nil {
				return
			}
		}
	}

	c.writeJSON(map[string]any{"type": "auth_required", "ha_version": "2024.6.0"})

	var auth map[string]any
	if err := raw.ReadJSON(&auth); err != nil {
		raw.Close()
		return
	}
	if auth["access_token"] != f.token {
		c.writeJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token"})
		raw.Close()
		return
	}
	c.writeJSON(map[string]any{"type": "auth_ok", "ha_version": "2024.6.0"})

	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()

	for {
		var cmd map[string]any
		if err := raw.ReadJSON(&cmd); err != nil {
			return
		}
		idFloat, _ := cmd["id"].(float64)
		id := uint64(idFloat)
		cmdType, _ := cmd["type"].(string)

		if f.onCommand != nil && f.onCommand(c, id, cmdType, cmd) {
			continue
		}

		switch cmdType {
		case "subscribe_events":
			f.mu.Lock()
			f.subscribes++
			f.mu.Unlock()
			c.writeResult(id, nil)
		case "get_states":
			f.mu.Lock()
			states := f.states
			f.mu.Unlock()
			c.writeResult(id, states)
		case "call_service":
			f.mu.Lock()
			f.calls = append(f.calls, cmd)
			f.mu.Unlock()
			c.writeResult(id, nil)
		default:
			c.writeJSON(map[string]any{
				"id": id, "type": "result", "success": false,
				"error": map[string]any{"code": "unknown_command", "message": "Unknown command."},
			})
		}
	}
}

func testState(entityID, value string) *wire.State {
	return &wire.State{
		EntityID:    entityID,
		State:       value,
		LastChanged: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestStreaming(t *testing.T, f *fakeHass, mutate func(*StreamingConfig)) *Streaming {
	t.Helper()
	cfg := StreamingConfig{
		URL:         f.url(),
		AccessToken: testToken,
		Logger:      quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewStreaming(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStreamingConnect(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := s.State(); got != StateReady {
		t.Errorf("state = %v, want READY", got)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestStreamingAuthRejected(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, func(cfg *StreamingConfig) {
		cfg.AccessToken = "wrong"
	})

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Connect = %v, want ErrAuth", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", got)
	}
}

func TestStreamingHandshakeTimeout(t *testing.T) {
	f := newFakeHass(t)
	f.skipChallenge = true
	s := newTestStreaming(t, f, func(cfg *StreamingConfig) {
		cfg.HandshakeTimeout = 100 * time.Millisecond
	})

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Connect = %v, want ErrTimeout", err)
	}
}

func TestStreamingGetStates(t *testing.T) {
	f := newFakeHass(t)
	f.setStates(
		testState("sensor.a", "1"),
		testState("sensor.b", "2"),
		testState("sensor.c", "3"),
	)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx := context.Background()

	state, err := s.GetState(ctx, "sensor.b")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.State != "2" {
		t.Errorf("sensor.b = %q, want %q", state.State, "2")
	}

	if _, err := s.GetState(ctx, "sensor.missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetState(missing) = %v, want ErrNotFound", err)
	}

	subset, err := s.GetStates(ctx, []string{"sensor.a", "sensor.missing", "sensor.c"})
	if err != nil {
		t.Fatalf("GetStates: %v", err)
	}
	if len(subset) != 2 {
		t.Fatalf("GetStates returned %d entries, want 2", len(subset))
	}
	if _, ok := subset["sensor.missing"]; ok {
		t.Error("missing entity present in subset result")
	}

	all, err := s.GetAllStates(ctx)
	if err != nil {
		t.Fatalf("GetAllStates: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("GetAllStates returned %d entries, want 3", len(all))
	}
}

func TestStreamingCallService(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err := s.CallService(context.Background(), "number", "set_value",
		map[string]any{"value": 1500},
		map[string]any{"entity_id": "number.epl_zone_1_begin_x"})
	if err != nil {
		t.Fatalf("CallService: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) != 1 {
		t.Fatalf("server saw %d calls, want 1", len(f.calls))
	}
	call := f.calls[0]
	if call["domain"] != "number" || call["service"] != "set_value" {
		t.Errorf("call = %v", call)
	}
	data, _ := call["service_data"].(map[string]any)
	if data["value"] != float64(1500) {
		t.Errorf("service_data = %v", data)
	}
}

func TestStreamingCommandFailure(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err := s.CallService(context.Background(), "nope", "nothing", nil, nil)
	if err == nil {
		t.Fatal("expected error for rejected service call")
	}
	if !strings.Contains(err.Error(), "unknown_command") {
		t.Errorf("error %v does not carry the server error code", err)
	}
}

func TestStreamingOutOfOrderResults(t *testing.T) {
	f := newFakeHass(t)

	firstSent := make(chan struct{})
	var pendingMu sync.Mutex
	var pendingIDs []uint64
	var pendingConn *serverConn

	// Hold the first get_states until the second arrives, then answer
	// in reverse order with distinct payloads.
	f.onCommand = func(c *serverConn, id uint64, cmdType string, cmd map[string]any) bool {
		if cmdType != "get_states" {
			return false
		}
		pendingMu.Lock()
		pendingIDs = append(pendingIDs, id)
		pendingConn = c
		n := len(pendingIDs)
		pendingMu.Unlock()

		if n == 1 {
			close(firstSent)
			return true
		}
		pendingMu.Lock()
		first, second := pendingIDs[0], pendingIDs[1]
		pendingMu.Unlock()
		pendingConn.writeResult(second, []*wire.State{testState("sensor.second", "2")})
		pendingConn.writeResult(first, []*wire.State{testState("sensor.first", "1")})
		return true
	}

	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	type outcome struct {
		states []*wire.State
		err    error
	}
	res1 := make(chan outcome, 1)
	res2 := make(chan outcome, 1)

	go func() {
		states, err := s.GetAllStates(context.Background())
		res1 <- outcome{states, err}
	}()
	waitSignal(t, firstSent, "first command to reach the server")
	go func() {
		states, err := s.GetAllStates(context.Background())
		res2 <- outcome{states, err}
	}()

	o1 := waitSignal(t, res1, "first result")
	o2 := waitSignal(t, res2, "second result")
	if o1.err != nil || o2.err != nil {
		t.Fatalf("errors: %v, %v", o1.err, o2.err)
	}
	if len(o1.states) != 1 || o1.states[0].EntityID != "sensor.first" {
		t.Errorf("first caller got %+v, want sensor.first", o1.states)
	}
	if len(o2.states) != 1 || o2.states[0].EntityID != "sensor.second" {
		t.Errorf("second caller got %+v, want sensor.second", o2.states)
	}
}

func TestStreamingSubscribeDispatch(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	filtered := newCollector()
	catchAll := newCollector()

	if _, err := s.SubscribeStateChanges([]string{"sensor.occupancy"}, filtered.fn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := s.SubscribeStateChanges(nil, catchAll.fn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Both local subscriptions share one upstream subscription.
	eventually(t, func() bool { return f.subscribeCount() == 1 }, "one upstream subscribe")

	f.pushEvent(testState("sensor.occupancy", "on"), testState("sensor.occupancy", "off"))
	f.pushEvent(testState("sensor.other", "42"), nil)

	got := waitSignal(t, filtered.ch, "filtered change")
	if got.entityID != "sensor.occupancy" || got.newState != "on" || got.oldState != "off" {
		t.Errorf("filtered change = %+v", got)
	}
	expectQuiet(t, filtered.ch, "second filtered change")

	first := waitSignal(t, catchAll.ch, "catch-all change 1")
	second := waitSignal(t, catchAll.ch, "catch-all change 2")
	if first.entityID != "sensor.occupancy" || second.entityID != "sensor.other" {
		t.Errorf("catch-all order = %q, %q", first.entityID, second.entityID)
	}
	if second.oldState != "" {
		t.Errorf("first appearance should carry nil old state, got %q", second.oldState)
	}
}

func TestStreamingUnknownMessagesDropped(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	col := newCollector()
	if _, err := s.SubscribeStateChanges(nil, col.fn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	eventually(t, func() bool { return f.subscribeCount() == 1 }, "upstream subscribe")

	f.lastConn().writeJSON(map[string]any{"type": "pong", "id": 99})
	f.pushEvent(testState("sensor.x", "7"), nil)

	got := waitSignal(t, col.ch, "change after unknown message")
	if got.entityID != "sensor.x" {
		t.Errorf("change = %+v", got)
	}
}

func TestStreamingPanicIsolation(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := s.SubscribeStateChanges(nil, func(string, *wire.State, *wire.State) {
		panic("subscriber bug")
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	healthy := newCollector()
	if _, err := s.SubscribeStateChanges(nil, healthy.fn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	eventually(t, func() bool { return f.subscribeCount() == 1 }, "upstream subscribe")

	f.pushEvent(testState("sensor.x", "1"), nil)
	f.pushEvent(testState("sensor.x", "2"), testState("sensor.x", "1"))

	first := waitSignal(t, healthy.ch, "first change")
	second := waitSignal(t, healthy.ch, "second change")
	if first.newState != "1" || second.newState != "2" {
		t.Errorf("healthy subscriber saw %q then %q", first.newState, second.newState)
	}
}

func TestStreamingUnsubscribe(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	col := newCollector()
	id, err := s.SubscribeStateChanges(nil, col.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	eventually(t, func() bool { return f.subscribeCount() == 1 }, "upstream subscribe")

	s.Unsubscribe(id)
	s.Unsubscribe("no-such-id") // no-op

	f.pushEvent(testState("sensor.x", "1"), nil)
	expectQuiet(t, col.ch, "change after unsubscribe")
}

func TestStreamingDisconnectFailsPending(t *testing.T) {
	f := newFakeHass(t)
	received := make(chan struct{}, 1)
	f.onCommand = func(c *serverConn, id uint64, cmdType string, cmd map[string]any) bool {
		if cmdType == "get_states" {
			received <- struct{}{}
			return true // swallow: never answer
		}
		return false
	}

	s := newTestStreaming(t, f, func(cfg *StreamingConfig) {
		cfg.Reconnect = &manualScheduler{}
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.GetAllStates(context.Background())
		errCh <- err
	}()
	waitSignal(t, received, "command to reach the server")

	f.dropAll()

	if err := waitSignal(t, errCh, "pending failure"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("pending call = %v, want ErrConnectionClosed", err)
	}
}

func TestStreamingReconnectResubscribes(t *testing.T) {
	f := newFakeHass(t)
	reconnect := &manualScheduler{}
	s := newTestStreaming(t, f, func(cfg *StreamingConfig) {
		cfg.Reconnect = reconnect
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	col := newCollector()
	if _, err := s.SubscribeStateChanges([]string{"sensor.occupancy"}, col.fn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	eventually(t, func() bool { return f.subscribeCount() == 1 }, "initial upstream subscribe")

	f.dropAll()
	eventually(t, func() bool { return s.State() == StateDisconnected }, "disconnect observed")
	eventually(t, reconnect.Active, "reconnect scheduled")

	reconnect.fire(t)
	eventually(t, func() bool { return s.State() == StateReady }, "reconnected")
	// The subscription survives the reconnect without caller involvement.
	eventually(t, func() bool { return f.subscribeCount() == 2 }, "resubscribe on new connection")

	f.pushEvent(testState("sensor.occupancy", "on"), testState("sensor.occupancy", "off"))
	got := waitSignal(t, col.ch, "change after reconnect")
	if got.newState != "on" {
		t.Errorf("change = %+v", got)
	}
}

func TestStreamingClose(t *testing.T) {
	f := newFakeHass(t)
	s := newTestStreaming(t, f, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}

	if _, err := s.GetAllStates(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("GetAllStates after Close = %v, want ErrConnectionClosed", err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Connect after Close = %v, want ErrConnectionClosed", err)
	}
}
