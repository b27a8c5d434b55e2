// Package transport maintains the connection to the home-automation
// platform and fans inbound state changes out to local subscribers.
//
// Two implementations expose the same Handle contract:
//
//   - Streaming: one persistent websocket connection with an auth
//     handshake, correlated command/result pairs, pushed state_changed
//     events and automatic reconnection.
//   - Polling: discrete REST calls, with change events synthesized by
//     periodically fetching state snapshots and diffing them against the
//     previous observation.
//
// Select races the streaming connect against a timeout and falls back to
// polling, so callers depend only on Handle and never branch on the
// active implementation except for status reporting.
//
// # Delivery Guarantees
//
// For a single entity id a subscriber observes updates in non-decreasing
// last_changed order; no ordering holds across entities. A subscription's
// callback is never invoked concurrently with itself. A panicking
// callback is isolated and logged; it cannot corrupt the connection or
// starve other subscribers. Subscriptions survive reconnects, but events
// that occur during an outage are not replayed.
package transport
