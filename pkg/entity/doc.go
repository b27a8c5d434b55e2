// Package entity resolves which platform entities belong to a given
// presence-sensor device. The fan-out server and the zone manager never
// guess entity ids themselves; they ask a Resolver.
//
// The registry-backed resolver joins the platform's entity registry
// against a device profile's entity suffixes. Matching is an exact
// suffix join on the entity object id; no similarity scoring.
package entity
