package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/discovery"
)

// DiscoverAPI handles mDNS discovery requests.
type DiscoverAPI struct {
	browser discovery.Browser
}

// NewDiscoverAPI creates a discovery API handler.
func NewDiscoverAPI(browser discovery.Browser) *DiscoverAPI {
	return &DiscoverAPI{browser: browser}
}

// HandleDiscover handles GET /api/v1/discover. It browses until the
// timeout (query parameter "timeout", default 5s) and returns every
// instance seen.
func (a *DiscoverAPI) HandleDiscover(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	timeout := 5 * time.Second
	if raw := req.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid timeout", err.Error())
			return
		}
		timeout = parsed
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	results, err := a.browser.Browse(ctx)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Discovery failed", err.Error())
		return
	}

	var instances []DiscoveredInstance
	for inst := range results {
		instances = append(instances, DiscoveredInstance{
			Name:         inst.Name,
			URL:          inst.URL(),
			Version:      inst.Version,
			LocationName: inst.LocationName,
		})
	}
	if instances == nil {
		instances = []DiscoveredInstance{}
	}
	writeJSONResponse(w, http.StatusOK, DiscoverResponse{
		Instances: instances,
		Total:     len(instances),
	})
}
