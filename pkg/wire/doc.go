// Package wire defines the JSON messages exchanged with the
// home-automation platform.
//
// Two channels speak these types:
//   - The websocket API at /api/websocket: an auth handshake followed by
//     correlated command/result pairs and pushed state_changed events.
//   - The REST API under /api/: discrete request/response calls that
//     return the same state objects.
//
// # Websocket Handshake
//
//	server → client   {"type":"auth_required","ha_version":"..."}
//	client → server   {"type":"auth","access_token":"..."}
//	server → client   {"type":"auth_ok"} or {"type":"auth_invalid","message":"..."}
//
// After auth_ok the client sends commands carrying a monotonically
// increasing id; the server answers each with a result message bearing
// the same id. Subscribed events arrive interleaved with results.
//
// Inbound messages are decoded into a closed set of kinds; unknown or
// malformed messages are reported as errors so the dispatch loop can log
// and drop them without crashing.
package wire
