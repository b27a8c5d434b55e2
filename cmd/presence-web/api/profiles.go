package api

import (
	"net/http"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/profile"
)

// ProfilesAPI handles profile listing.
type ProfilesAPI struct {
	registry *profile.Registry
}

// NewProfilesAPI creates a profiles API handler.
func NewProfilesAPI(registry *profile.Registry) *ProfilesAPI {
	return &ProfilesAPI{registry: registry}
}

// HandleList handles GET /api/v1/profiles.
func (a *ProfilesAPI) HandleList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profiles := a.registry.List()
	summaries := make([]ProfileSummary, 0, len(profiles))
	for _, p := range profiles {
		summaries = append(summaries, ProfileSummary{
			ID:                 p.ID,
			Name:               p.Name,
			Manufacturer:       p.Manufacturer,
			ZoneCount:          p.ZoneCount,
			ExclusionZoneCount: p.ExclusionZoneCount,
			TargetCount:        p.TargetCount,
		})
	}
	writeJSONResponse(w, http.StatusOK, ProfileListResponse{
		Profiles: summaries,
		Total:    len(summaries),
	})
}
