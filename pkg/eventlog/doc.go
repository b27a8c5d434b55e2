// Package eventlog captures transport protocol events for diagnostics.
//
// The transports and the fan-out server emit an Event for every message
// sent or received, every connection state change, and every error. An
// application chooses where the events go by passing a Logger:
//
//   - FileLogger appends CBOR-encoded events to a capture file that can
//     be replayed later with Reader.
//   - SlogAdapter mirrors events into a slog.Logger at debug level for
//     console inspection during development.
//   - MultiLogger fans one event out to several loggers.
//   - NoopLogger (or a nil Logger) disables capture entirely.
//
// Events use integer CBOR keys to keep capture files compact.
package eventlog
