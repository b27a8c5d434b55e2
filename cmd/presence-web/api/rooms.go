package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/zone"
)

// RoomsAPI handles room and zone endpoints.
type RoomsAPI struct {
	manager *zone.Manager
}

// NewRoomsAPI creates a rooms API handler.
func NewRoomsAPI(manager *zone.Manager) *RoomsAPI {
	return &RoomsAPI{manager: manager}
}

// HandleRooms handles GET and POST /api/v1/rooms.
func (a *RoomsAPI) HandleRooms(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		a.handleListRooms(w, req)
	case http.MethodPost:
		a.handleCreateRoom(w, req)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRoomByID routes /api/v1/rooms/:id, /api/v1/rooms/:id/zones and
// /api/v1/rooms/:id/apply.
func (a *RoomsAPI) HandleRoomByID(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/api/v1/rooms/")

	switch {
	case strings.HasSuffix(path, "/zones"):
		a.handleRoomZones(w, req, strings.TrimSuffix(path, "/zones"))
	case strings.HasSuffix(path, "/apply"):
		a.handleApply(w, req, strings.TrimSuffix(path, "/apply"))
	default:
		a.handleRoom(w, req, path)
	}
}

// HandleZoneByID handles PUT and DELETE /api/v1/zones/:id.
func (a *RoomsAPI) HandleZoneByID(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/api/v1/zones/")

	switch req.Method {
	case http.MethodPut:
		var body UpdateZoneRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		z, err := a.manager.UpdateZone(id, body.Name, body.Rect)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, z)

	case http.MethodDelete:
		if err := a.manager.RemoveZone(id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *RoomsAPI) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	rooms, err := a.manager.ListRooms()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, RoomListResponse{Rooms: rooms, Total: len(rooms)})
}

func (a *RoomsAPI) handleCreateRoom(w http.ResponseWriter, req *http.Request) {
	var body CreateRoomRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if body.Name == "" || body.DeviceID == "" || body.ProfileID == "" {
		writeJSONError(w, http.StatusBadRequest, "name, deviceId and profileId are required", "")
		return
	}

	room, err := a.manager.CreateRoom(body.Name, body.DeviceID, body.ProfileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, room)
}

func (a *RoomsAPI) handleRoom(w http.ResponseWriter, req *http.Request, id string) {
	switch req.Method {
	case http.MethodGet:
		room, err := a.manager.GetRoom(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, room)

	case http.MethodDelete:
		if err := a.manager.DeleteRoom(id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *RoomsAPI) handleRoomZones(w http.ResponseWriter, req *http.Request, roomID string) {
	switch req.Method {
	case http.MethodGet:
		zones, err := a.manager.ListZones(roomID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, ZoneListResponse{Zones: zones, Total: len(zones)})

	case http.MethodPost:
		var body CreateZoneRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		kind := body.Kind
		if kind == "" {
			kind = zone.KindDetection
		}
		z, err := a.manager.AddZone(roomID, body.Name, kind, body.Rect)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusCreated, z)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *RoomsAPI) handleApply(w http.ResponseWriter, req *http.Request, roomID string) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ApplyRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if body.EntityPrefix == "" {
		writeJSONError(w, http.StatusBadRequest, "entityPrefix is required", "")
		return
	}

	if err := a.manager.ApplyZones(req.Context(), roomID, body.EntityPrefix); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "applied"})
}
