// Package store persists rooms, zones and application settings in a
// local SQLite database. The schema is created on open; the database
// file lives inside the add-on's data directory.
package store
