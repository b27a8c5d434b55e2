package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Migushthe2nd/everything-presence-addons/cmd/presence-web/api"
	"github.com/Migushthe2nd/everything-presence-addons/internal/config"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/discovery"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/entity"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/fanout"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/profile"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/store"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/transport"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/zone"
)

// Server wires the transport, the fan-out hub and the REST API into one
// HTTP server.
type Server struct {
	config *config.Config
	logger *slog.Logger

	mux    *http.ServeMux
	server *http.Server

	store    *store.Store
	events   *eventlog.FileLogger
	handle   transport.Handle
	status   transport.Status
	fanout   *fanout.Server
	version  string
}

// NewServer builds the full service. Transport selection happens here;
// if neither transport comes up the service refuses to start.
func NewServer(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var events *eventlog.FileLogger
	var capture eventlog.Logger = eventlog.NoopLogger{}
	if cfg.EventLog.Path != "" {
		events, err = eventlog.NewFileLogger(cfg.EventLog.Path)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("opening event log: %w", err)
		}
		capture = events
	}

	profiles, err := profile.NewRegistry()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	if cfg.Profiles.Dir != "" {
		if err := profiles.LoadDir(cfg.Profiles.Dir); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("loading profile dir: %w", err)
		}
	}

	handle, status, err := transport.Select(ctx, transport.SelectorConfig{
		Streaming: transport.StreamingConfig{
			URL:            cfg.WebSocketURL(),
			AccessToken:    cfg.Platform.Token,
			ReconnectDelay: cfg.Platform.ReconnectDelay.Std(),
			Logger:         logger,
			EventLog:       capture,
		},
		Polling: transport.PollingConfig{
			BaseURL:      cfg.Platform.BaseURL,
			AccessToken:  cfg.Platform.Token,
			PollInterval: cfg.Platform.PollInterval.Std(),
			Logger:       logger,
			EventLog:     capture,
		},
		DisableStreaming: cfg.Platform.DisableStreaming,
		StreamingTimeout: cfg.Platform.StreamingTimeout.Std(),
		Logger:           logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("selecting transport: %w", err)
	}
	logger.Info("transport selected",
		"active", status.Active,
		"streaming_available", status.StreamingAvailable,
		"polling_available", status.PollingAvailable)

	resolver := entity.NewRegistryResolver(handle, profiles, logger)

	hub := fanout.NewServer(fanout.Config{
		Transport: handle,
		Resolver:  resolver,
		Logger:    logger,
		EventLog:  capture,
	})
	if err := hub.Start(); err != nil {
		_ = handle.Close()
		_ = st.Close()
		return nil, fmt.Errorf("starting fanout: %w", err)
	}

	manager := zone.NewManager(st, handle, profiles, logger)

	s := &Server{
		config:  cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		store:   st,
		events:  events,
		handle:  handle,
		status:  status,
		fanout:  hub,
		version: version,
	}
	s.registerRoutes(manager, profiles)

	s.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: s.mux,
	}
	return s, nil
}

func (s *Server) registerRoutes(manager *zone.Manager, profiles *profile.Registry) {
	roomsAPI := api.NewRoomsAPI(manager)
	profilesAPI := api.NewProfilesAPI(profiles)
	discoverAPI := api.NewDiscoverAPI(discovery.NewMDNSBrowser(discovery.BrowserConfig{}))

	s.mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.mux.HandleFunc("/api/v1/rooms", roomsAPI.HandleRooms)
	s.mux.HandleFunc("/api/v1/rooms/", roomsAPI.HandleRoomByID)
	s.mux.HandleFunc("/api/v1/zones/", roomsAPI.HandleZoneByID)

	s.mux.HandleFunc("/api/v1/profiles", profilesAPI.HandleList)
	s.mux.HandleFunc("/api/v1/discover", discoverAPI.HandleDiscover)

	s.mux.Handle("/ws", s.fanout)
}

// handleHealth reports service and transport status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]any{
		"status":              "ok",
		"version":             s.version,
		"transport":           string(s.status.Active),
		"streaming_available": s.status.StreamingAvailable,
		"polling_available":   s.status.PollingAvailable,
		"sessions":            s.fanout.SessionCount(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Close shuts everything down: fan-out sessions first, then the
// transport, then persistence.
func (s *Server) Close() error {
	_ = s.fanout.Close()
	_ = s.handle.Close()
	if s.events != nil {
		_ = s.events.Close()
	}
	return s.store.Close()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
