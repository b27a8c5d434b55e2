// Package zone models rooms and the rectangular detection and exclusion
// zones configured on a presence sensor. Coordinates are millimetres in
// the sensor's frame: the sensor sits at the origin facing positive Y.
//
// The Manager owns zone CRUD against a persistent store and pushes the
// resulting geometry to the device through the transport's service-call
// surface, one coordinate entity at a time.
package zone
