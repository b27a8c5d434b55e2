package eventlog

import (
	"context"
	"log/slog"
)

// SlogAdapter writes transport events to an slog.Logger.
// Useful for development when you want to see protocol traffic in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("transport", event.Transport),
		slog.String("direction", event.Direction.String()),
		slog.String("category", event.Category.String()),
	}

	if event.Remote != "" {
		attrs = append(attrs, slog.String("remote", event.Remote))
	}

	switch {
	case event.Message != nil:
		attrs = append(attrs, slog.String("msg_type", event.Message.Type))
		if event.Message.CorrelationID != 0 {
			attrs = append(attrs, slog.Uint64("correlation_id", event.Message.CorrelationID))
		}
		if event.Message.EntityID != "" {
			attrs = append(attrs, slog.String("entity_id", event.Message.EntityID))
		}
		if event.Message.Size != 0 {
			attrs = append(attrs, slog.Int("size", event.Message.Size))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs, slog.String("error_msg", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "transport", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
