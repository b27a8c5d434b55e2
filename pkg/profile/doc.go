// Package profile defines device profiles: per-model descriptions of how
// many zones and tracking targets a presence sensor exposes, the sensor's
// coordinate limits, and the entity-id suffixes its firmware publishes.
//
// A default profile set ships embedded in the binary; additional or
// overriding profiles can be loaded from a directory of YAML files.
package profile
