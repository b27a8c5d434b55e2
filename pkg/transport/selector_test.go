package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func selectorConfig(wsURL, restURL string) SelectorConfig {
	return SelectorConfig{
		Streaming: StreamingConfig{
			URL:              wsURL,
			AccessToken:      testToken,
			HandshakeTimeout: 500 * time.Millisecond,
			Logger:           quietLogger(),
		},
		Polling: PollingConfig{
			BaseURL:        restURL,
			AccessToken:    testToken,
			RequestTimeout: 500 * time.Millisecond,
			Logger:         quietLogger(),
		},
		StreamingTimeout: 500 * time.Millisecond,
		Logger:           quietLogger(),
	}
}

func TestSelectPrefersStreaming(t *testing.T) {
	ws := newFakeHass(t)
	rest := newFakeRest(t)

	handle, status, err := Select(context.Background(), selectorConfig(ws.url(), rest.srv.URL))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	defer handle.Close()

	if handle.Kind() != KindStreaming {
		t.Errorf("selected %q, want streaming", handle.Kind())
	}
	if !status.StreamingAvailable || !status.PollingAvailable {
		t.Errorf("status = %+v, want both channels available", status)
	}
	if status.Active != KindStreaming {
		t.Errorf("active = %q", status.Active)
	}
}

func TestSelectFallsBackToPolling(t *testing.T) {
	rest := newFakeRest(t)

	// No websocket listener at all: dial fails fast.
	cfg := selectorConfig("ws://127.0.0.1:1/api/websocket", rest.srv.URL)

	handle, status, err := Select(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	defer handle.Close()

	if handle.Kind() != KindPolling {
		t.Errorf("selected %q, want polling", handle.Kind())
	}
	if status.StreamingAvailable {
		t.Error("streaming reported available after failed attempt")
	}
	if !status.PollingAvailable || status.Active != KindPolling {
		t.Errorf("status = %+v", status)
	}
}

func TestSelectTimeoutFallsBack(t *testing.T) {
	ws := newFakeHass(t)
	ws.skipChallenge = true // accepts the upgrade, never authenticates
	rest := newFakeRest(t)

	cfg := selectorConfig(ws.url(), rest.srv.URL)
	cfg.StreamingTimeout = 150 * time.Millisecond

	handle, status, err := Select(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	defer handle.Close()

	if handle.Kind() != KindPolling {
		t.Errorf("selected %q, want polling after handshake stall", handle.Kind())
	}
	if status.StreamingAvailable {
		t.Error("streaming reported available after stalled handshake")
	}
}

func TestSelectAuthRejectionIsFatal(t *testing.T) {
	ws := newFakeHass(t)
	rest := newFakeRest(t)

	cfg := selectorConfig(ws.url(), rest.srv.URL)
	cfg.Streaming.AccessToken = "wrong"

	// Bad credentials fail selection outright instead of falling back:
	// the REST channel shares the token and would be rejected too.
	if _, _, err := Select(context.Background(), cfg); !errors.Is(err, ErrAuth) {
		t.Fatalf("Select = %v, want ErrAuth", err)
	}
}

func TestSelectBothUnavailable(t *testing.T) {
	cfg := selectorConfig("ws://127.0.0.1:1/api/websocket", "http://127.0.0.1:1")

	_, _, err := Select(context.Background(), cfg)
	if err == nil {
		t.Fatal("Select succeeded with no channel available")
	}
	if !errors.Is(err, ErrConnection) {
		t.Errorf("Select = %v, want ErrConnection", err)
	}
}

func TestSelectStreamingDisabled(t *testing.T) {
	ws := newFakeHass(t)
	rest := newFakeRest(t)

	cfg := selectorConfig(ws.url(), rest.srv.URL)
	cfg.DisableStreaming = true

	handle, status, err := Select(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	defer handle.Close()

	if handle.Kind() != KindPolling || status.Active != KindPolling {
		t.Errorf("selected %q with status %+v, want polling", handle.Kind(), status)
	}
}
