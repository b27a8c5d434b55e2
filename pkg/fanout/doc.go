// Package fanout multiplexes browser sessions onto the single shared
// transport handle. The server holds one unfiltered upstream
// subscription for its whole lifetime; each websocket session carries
// its own finite interest set, resolved per device and profile, and
// receives only the state updates that set contains.
package fanout
