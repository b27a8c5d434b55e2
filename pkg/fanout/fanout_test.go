package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/entity"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/transport"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// fakeHandle is a transport.Handle stub: it records the upstream
// subscription callback so tests can inject state changes directly.
type fakeHandle struct {
	mu         sync.Mutex
	onChange   transport.ChangeFunc
	subscribed int
	unsubbed   []string
	states     map[string]*wire.State
	statesErr  error
}

var _ transport.Handle = (*fakeHandle)(nil)

func (f *fakeHandle) Connect(context.Context) error { return nil }
func (f *fakeHandle) Close() error                  { return nil }
func (f *fakeHandle) Kind() transport.Kind          { return transport.KindStreaming }

func (f *fakeHandle) GetState(_ context.Context, entityID string) (*wire.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[entityID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return st, nil
}

func (f *fakeHandle) GetStates(_ context.Context, entityIDs []string) (map[string]*wire.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statesErr != nil {
		return nil, f.statesErr
	}
	out := make(map[string]*wire.State)
	for _, id := range entityIDs {
		if st, ok := f.states[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (f *fakeHandle) GetAllStates(context.Context) ([]*wire.State, error) { return nil, nil }

func (f *fakeHandle) CallService(context.Context, string, string, map[string]any, map[string]any) error {
	return nil
}

func (f *fakeHandle) SubscribeStateChanges(_ []string, onChange transport.ChangeFunc) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed++
	f.onChange = onChange
	return "upstream-1", nil
}

func (f *fakeHandle) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = append(f.unsubbed, id)
}

func (f *fakeHandle) ListDevices(context.Context) ([]wire.DeviceEntry, error)   { return nil, nil }
func (f *fakeHandle) ListEntities(context.Context) ([]wire.EntityEntry, error)  { return nil, nil }
func (f *fakeHandle) ListAreas(context.Context) ([]wire.AreaEntry, error)       { return nil, nil }

// push injects one upstream state change through the recorded callback.
func (f *fakeHandle) push(entityID, value string) {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	if cb == nil {
		panic("no upstream subscription")
	}
	cb(entityID, &wire.State{
		EntityID:    entityID,
		State:       value,
		LastChanged: time.Now(),
	}, nil)
}

// resolverFunc adapts a function to entity.Resolver.
type resolverFunc func(ctx context.Context, deviceID, profileID string, hints entity.Hints) ([]string, error)

func (f resolverFunc) ResolveEntities(ctx context.Context, deviceID, profileID string, hints entity.Hints) ([]string, error) {
	return f(ctx, deviceID, profileID, hints)
}

func staticResolver(entities map[string][]string) entity.Resolver {
	return resolverFunc(func(_ context.Context, deviceID, _ string, _ entity.Hints) ([]string, error) {
		return entities[deviceID], nil
	})
}

type fanoutFixture struct {
	handle *fakeHandle
	server *Server
	srv    *httptest.Server
}

func newFixture(t *testing.T, resolver entity.Resolver) *fanoutFixture {
	t.Helper()

	handle := &fakeHandle{states: make(map[string]*wire.State)}
	server := NewServer(Config{
		Transport: handle,
		Resolver:  resolver,
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		_ = server.Close()
	})
	return &fanoutFixture{handle: handle, server: server, srv: srv}
}

func (f *fanoutFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readMsg reads one message and returns its type plus the raw JSON.
func readMsg(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return envelope.Type, data
}

func expectNoMsg(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected message: %s", data)
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, deviceID, profileID string) {
	t.Helper()
	if err := conn.WriteJSON(ClientMessage{Type: MsgSubscribe, DeviceID: deviceID, ProfileID: profileID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func TestFanoutSubscribeAndFilter(t *testing.T) {
	resolver := staticResolver(map[string][]string{
		"abc": {"binary_sensor.abc_occupancy", "sensor.abc_target_1_x"},
	})
	f := newFixture(t, resolver)
	f.handle.states["binary_sensor.abc_occupancy"] = &wire.State{
		EntityID:   "binary_sensor.abc_occupancy",
		State:      "on",
		Attributes: map[string]any{"friendly_name": "Occupancy"},
	}

	conn := f.dial(t)
	subscribe(t, conn, "abc", "epl")

	typ, data := readMsg(t, conn)
	if typ != MsgSubscribed {
		t.Fatalf("expected subscribed, got %s: %s", typ, data)
	}
	var sub SubscribedMessage
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatal(err)
	}
	if !sub.HasMappings {
		t.Error("expected hasMappings true")
	}
	if len(sub.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %v", sub.Entities)
	}
	init, ok := sub.InitialStates["binary_sensor.abc_occupancy"]
	if !ok {
		t.Fatal("missing initial state for occupancy")
	}
	if init.State != "on" {
		t.Errorf("initial state = %q, want on", init.State)
	}
	if _, ok := sub.InitialStates["sensor.abc_target_1_x"]; ok {
		t.Error("entity without upstream state should be absent from initialStates")
	}

	// An interesting update is delivered.
	f.handle.push("sensor.abc_target_1_x", "1500")
	typ, data = readMsg(t, conn)
	if typ != MsgStateUpdate {
		t.Fatalf("expected state_update, got %s: %s", typ, data)
	}
	var upd StateUpdateMessage
	if err := json.Unmarshal(data, &upd); err != nil {
		t.Fatal(err)
	}
	if upd.EntityID != "sensor.abc_target_1_x" || upd.State != "1500" {
		t.Errorf("unexpected update: %+v", upd)
	}
	if upd.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}

	// An unrelated entity is filtered out.
	f.handle.push("sensor.xyz_temp", "21.5")
	expectNoMsg(t, conn)
}

func TestFanoutMappingNotFoundAdmitsWithWarning(t *testing.T) {
	f := newFixture(t, staticResolver(nil))
	conn := f.dial(t)
	subscribe(t, conn, "ghost", "epl")

	typ, data := readMsg(t, conn)
	if typ != MsgWarning {
		t.Fatalf("expected warning, got %s: %s", typ, data)
	}
	var warn WarningMessage
	if err := json.Unmarshal(data, &warn); err != nil {
		t.Fatal(err)
	}
	if warn.Code != WarnMappingNotFound {
		t.Errorf("code = %q, want %q", warn.Code, WarnMappingNotFound)
	}
	if warn.DeviceID != "ghost" {
		t.Errorf("deviceId = %q, want ghost", warn.DeviceID)
	}

	// Still admitted: the subscribed ack follows the warning.
	typ, data = readMsg(t, conn)
	if typ != MsgSubscribed {
		t.Fatalf("expected subscribed after warning, got %s: %s", typ, data)
	}
	var sub SubscribedMessage
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.HasMappings {
		t.Error("expected hasMappings false")
	}
	if len(sub.Entities) != 0 {
		t.Errorf("expected no entities, got %v", sub.Entities)
	}
}

func TestFanoutInvalidSubscribeKeepsSession(t *testing.T) {
	resolver := staticResolver(map[string][]string{"abc": {"sensor.abc_occupancy"}})
	f := newFixture(t, resolver)
	conn := f.dial(t)

	subscribe(t, conn, "", "epl")
	typ, data := readMsg(t, conn)
	if typ != MsgError {
		t.Fatalf("expected error, got %s: %s", typ, data)
	}

	// The session survives; a valid subscribe still works.
	subscribe(t, conn, "abc", "epl")
	typ, _ = readMsg(t, conn)
	if typ != MsgSubscribed {
		t.Fatalf("expected subscribed, got %s", typ)
	}
}

func TestFanoutResolverFailure(t *testing.T) {
	resolver := resolverFunc(func(context.Context, string, string, entity.Hints) ([]string, error) {
		return nil, errors.New("registry unavailable")
	})
	f := newFixture(t, resolver)
	conn := f.dial(t)
	subscribe(t, conn, "abc", "epl")

	typ, data := readMsg(t, conn)
	if typ != MsgError {
		t.Fatalf("expected error, got %s: %s", typ, data)
	}
	var e ErrorMessage
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(e.Error, "registry unavailable") {
		t.Errorf("error %q should mention cause", e.Error)
	}
}

func TestFanoutUnsubscribeStopsDelivery(t *testing.T) {
	resolver := staticResolver(map[string][]string{"abc": {"sensor.abc_occupancy"}})
	f := newFixture(t, resolver)
	conn := f.dial(t)
	subscribe(t, conn, "abc", "epl")
	if typ, _ := readMsg(t, conn); typ != MsgSubscribed {
		t.Fatal("expected subscribed")
	}

	if err := conn.WriteJSON(ClientMessage{Type: MsgUnsubscribe}); err != nil {
		t.Fatal(err)
	}
	// The read loop is sequential: once the error reply for the probe
	// arrives the unsubscribe has been processed.
	if err := conn.WriteJSON(ClientMessage{Type: "probe"}); err != nil {
		t.Fatal(err)
	}
	if typ, _ := readMsg(t, conn); typ != MsgError {
		t.Fatal("expected probe error reply")
	}

	f.handle.push("sensor.abc_occupancy", "on")
	expectNoMsg(t, conn)
}

func TestFanoutUnknownMessageType(t *testing.T) {
	f := newFixture(t, staticResolver(nil))
	conn := f.dial(t)
	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	typ, data := readMsg(t, conn)
	if typ != MsgError {
		t.Fatalf("expected error, got %s: %s", typ, data)
	}
}

func TestFanoutInitialStateFetchFailureTolerated(t *testing.T) {
	resolver := staticResolver(map[string][]string{"abc": {"sensor.abc_occupancy"}})
	f := newFixture(t, resolver)
	f.handle.statesErr = errors.New("upstream flake")

	conn := f.dial(t)
	subscribe(t, conn, "abc", "epl")

	typ, data := readMsg(t, conn)
	if typ != MsgSubscribed {
		t.Fatalf("expected subscribed, got %s: %s", typ, data)
	}
	var sub SubscribedMessage
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatal(err)
	}
	if len(sub.InitialStates) != 0 {
		t.Errorf("expected empty initialStates, got %v", sub.InitialStates)
	}

	// Live updates still flow.
	f.handle.statesErr = nil
	f.handle.push("sensor.abc_occupancy", "off")
	if typ, _ := readMsg(t, conn); typ != MsgStateUpdate {
		t.Fatalf("expected state_update, got %s", typ)
	}
}

func TestFanoutMultipleSessionsIndependentInterest(t *testing.T) {
	resolver := staticResolver(map[string][]string{
		"abc": {"sensor.abc_occupancy"},
		"def": {"sensor.def_occupancy"},
	})
	f := newFixture(t, resolver)

	connA := f.dial(t)
	connB := f.dial(t)
	subscribe(t, connA, "abc", "epl")
	subscribe(t, connB, "def", "epl")
	if typ, _ := readMsg(t, connA); typ != MsgSubscribed {
		t.Fatal("expected subscribed on A")
	}
	if typ, _ := readMsg(t, connB); typ != MsgSubscribed {
		t.Fatal("expected subscribed on B")
	}

	f.handle.push("sensor.abc_occupancy", "on")
	if typ, _ := readMsg(t, connA); typ != MsgStateUpdate {
		t.Fatal("expected update on A")
	}
	expectNoMsg(t, connB)
}

func TestFanoutStartAndClose(t *testing.T) {
	handle := &fakeHandle{states: make(map[string]*wire.State)}
	server := NewServer(Config{
		Transport: handle,
		Resolver:  staticResolver(nil),
		Logger:    slog.New(slog.DiscardHandler),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle.subscribed != 1 {
		t.Fatalf("expected one upstream subscription, got %d", handle.subscribed)
	}
	if err := server.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(handle.unsubbed) != 1 || handle.unsubbed[0] != "upstream-1" {
		t.Errorf("expected upstream unsubscribe, got %v", handle.unsubbed)
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if err := server.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}
