package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultStreamingTimeout is how long selection waits for the websocket
// channel before falling back to polling.
const DefaultStreamingTimeout = 5 * time.Second

// SelectorConfig configures transport selection.
type SelectorConfig struct {
	// Streaming configures the preferred websocket transport.
	Streaming StreamingConfig

	// Polling configures the REST fallback transport.
	Polling PollingConfig

	// DisableStreaming skips the websocket attempt entirely.
	DisableStreaming bool

	// StreamingTimeout bounds the websocket attempt before falling back
	// (default: 5s).
	StreamingTimeout time.Duration

	// Logger receives selection logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// Status reports the outcome of transport selection.
type Status struct {
	// Active is the kind of the selected transport.
	Active Kind

	// StreamingAvailable reports whether the websocket channel came up.
	StreamingAvailable bool

	// PollingAvailable reports whether the REST endpoint was reachable.
	PollingAvailable bool
}

// Select establishes the best available transport: websocket when it
// authenticates within the timeout, REST polling otherwise. Rejected
// credentials are fatal immediately, since both channels share the
// token. When neither channel comes up the returned error wraps both
// failures and the caller should treat startup as failed.
func Select(ctx context.Context, config SelectorConfig) (Handle, Status, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.StreamingTimeout == 0 {
		config.StreamingTimeout = DefaultStreamingTimeout
	}

	var streamErr error
	if !config.DisableStreaming {
		streaming := NewStreaming(config.Streaming)

		connectCtx, cancel := context.WithTimeout(ctx, config.StreamingTimeout)
		streamErr = streaming.Connect(connectCtx)
		cancel()

		if streamErr == nil {
			status := Status{
				Active:             KindStreaming,
				StreamingAvailable: true,
				PollingAvailable:   probePolling(ctx, config.Polling),
			}
			logger.Info("transport selected",
				"transport", string(KindStreaming),
				"polling_available", status.PollingAvailable)
			return streaming, status, nil
		}

		streaming.Close()

		if errors.Is(streamErr, ErrAuth) {
			return nil, Status{}, fmt.Errorf("transport selection: %w", streamErr)
		}
		logger.Warn("streaming unavailable, falling back to polling", "error", streamErr)
	} else {
		logger.Info("streaming disabled by configuration")
	}

	polling := NewPolling(config.Polling)
	if err := polling.Connect(ctx); err != nil {
		polling.Close()
		if streamErr != nil {
			return nil, Status{}, fmt.Errorf("transport selection: streaming: %v; polling: %w", streamErr, err)
		}
		return nil, Status{}, fmt.Errorf("transport selection: polling: %w", err)
	}

	status := Status{
		Active:           KindPolling,
		PollingAvailable: true,
	}
	logger.Info("transport selected", "transport", string(KindPolling))
	return polling, status, nil
}

// probePolling checks REST reachability without keeping the handle.
// Best-effort: selection already succeeded, this only feeds status
// reporting.
func probePolling(ctx context.Context, config PollingConfig) bool {
	probe := NewPolling(config)
	defer probe.Close()

	probeCtx, cancel := context.WithTimeout(ctx, probe.config.RequestTimeout)
	defer cancel()

	return probe.Connect(probeCtx) == nil
}
