package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/profile"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/zone"
)

// writeJSONResponse writes data as a JSON response.
func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeJSONError writes a JSON error body.
func writeJSONError(w http.ResponseWriter, status int, message, detail string) {
	writeJSONResponse(w, status, map[string]string{
		"error":  message,
		"detail": detail,
	})
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, zone.ErrRoomNotFound),
		errors.Is(err, zone.ErrZoneNotFound),
		errors.Is(err, profile.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, zone.ErrInvalidGeometry),
		errors.Is(err, zone.ErrMaxZonesExceeded):
		writeJSONError(w, http.StatusUnprocessableEntity, "Invalid zone", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "Internal error", err.Error())
	}
}
