package transport

import "errors"

// Transport errors.
var (
	// ErrConnection indicates a transport-level failure to establish or
	// maintain a channel. At selection time it triggers fallback; at
	// runtime it triggers reconnection.
	ErrConnection = errors.New("connection failed")

	// ErrAuth indicates the platform rejected the access token.
	// Never retried automatically.
	ErrAuth = errors.New("authentication failed")

	// ErrTimeout indicates no handshake progress within a bound.
	// Treated as ErrConnection for fallback purposes.
	ErrTimeout = errors.New("connection timed out")

	// ErrRequestTimeout indicates a specific in-flight command went
	// unanswered. Only that command fails.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnectionClosed indicates the channel dropped while the
	// operation was in flight, or the handle was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotFound indicates the requested entity does not exist upstream.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyConnected indicates Connect was called on a live handle.
	ErrAlreadyConnected = errors.New("already connected")
)
