package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// manualScheduler lets tests fire scheduled work with virtual time.
type manualScheduler struct {
	mu     sync.Mutex
	fn     func()
	active bool
}

func (m *manualScheduler) Start(fn func()) {
	m.mu.Lock()
	m.fn = fn
	m.active = true
	m.mu.Unlock()
}

func (m *manualScheduler) Stop() {
	m.mu.Lock()
	m.fn = nil
	m.active = false
	m.mu.Unlock()
}

func (m *manualScheduler) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// fire runs the scheduled function once, synchronously.
func (m *manualScheduler) fire(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn == nil {
		t.Fatal("no function scheduled")
	}
	fn()
}

var _ Scheduler = (*manualScheduler)(nil)

// waitSignal waits for one value on ch or fails the test.
func waitSignal[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// expectQuiet fails the test if ch produces a value within the window.
func expectQuiet[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(100 * time.Millisecond):
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

// change is one captured subscription callback.
type change struct {
	entityID string
	newState string
	oldState string // "" when oldState was nil
}

// collector records subscription callbacks for assertions.
type collector struct {
	ch chan change
}

func newCollector() *collector {
	return &collector{ch: make(chan change, 64)}
}

func (c *collector) fn(entityID string, newState, oldState *wire.State) {
	ev := change{entityID: entityID}
	if newState != nil {
		ev.newState = newState.State
	}
	if oldState != nil {
		ev.oldState = oldState.State
	}
	c.ch <- ev
}
