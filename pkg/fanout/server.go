package fanout

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/entity"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/transport"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// Server errors.
var (
	ErrAlreadyStarted = errors.New("fanout server already started")
	ErrClosed         = errors.New("fanout server closed")
)

// Config configures a fan-out server.
type Config struct {
	// Transport is the shared upstream handle. Required.
	Transport transport.Handle

	// Resolver resolves device/profile pairs to entity ids. Required.
	Resolver entity.Resolver

	// SubscribeTimeout bounds entity resolution and the initial state
	// fetch per subscribe request (default: 10s).
	SubscribeTimeout time.Duration

	// Logger receives structured logs (default: slog.Default()).
	Logger *slog.Logger

	// EventLog receives session events. Nil disables capture.
	EventLog eventlog.Logger
}

// DefaultSubscribeTimeout bounds one subscribe request.
const DefaultSubscribeTimeout = 10 * time.Second

// Server fans upstream state changes out to websocket sessions. It
// holds exactly one unfiltered upstream subscription, established on
// Start and kept for the server's lifetime regardless of how sessions
// come and go.
type Server struct {
	config   Config
	logger   *slog.Logger
	events   eventlog.Logger
	upgrader websocket.Upgrader

	mu         sync.Mutex
	sessions   map[string]*session
	upstreamID string
	started    bool
	closed     bool
}

// NewServer creates a fan-out server. Call Start before serving.
func NewServer(config Config) *Server {
	if config.SubscribeTimeout == 0 {
		config.SubscribeTimeout = DefaultSubscribeTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var events eventlog.Logger = eventlog.NoopLogger{}
	if config.EventLog != nil {
		events = config.EventLog
	}

	return &Server{
		config: config,
		logger: logger,
		events: events,
		upgrader: websocket.Upgrader{
			// Sessions originate from the ingress-served UI; the addon
			// runs behind the platform's own auth.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// Start establishes the upstream subscription. The subscription is
// unfiltered; per-session filtering happens at dispatch.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	id, err := s.config.Transport.SubscribeStateChanges(nil, s.dispatch)
	if err != nil {
		return err
	}
	s.upstreamID = id
	s.started = true
	s.logger.Info("fanout started", "upstream", id, "transport", s.config.Transport.Kind())
	return nil
}

// Close drops the upstream subscription and disconnects all sessions.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	upstreamID := s.upstreamID
	started := s.started
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	if started {
		s.config.Transport.Unsubscribe(upstreamID)
	}
	for _, sess := range sessions {
		sess.close()
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		http.Error(w, "fanout not running", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sess := newSession(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("session connected", "session", sess.id, "remote", r.RemoteAddr, "sessions", count)
	go sess.readLoop()
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// dispatch runs on the transport's delivery goroutine. It snapshots the
// session list and forwards the change to every interested session.
func (s *Server) dispatch(entityID string, newState, oldState *wire.State) {
	_ = oldState

	if newState == nil {
		// Entity removed upstream. Sessions keep their interest; the
		// entity may reappear after a device restart.
		return
	}

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.deliver(entityID, newState)
	}
}

// removeSession detaches a closed session from the server.
func (s *Server) removeSession(id string) {
	s.mu.Lock()
	_, found := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	if found {
		s.logger.Info("session disconnected", "session", id, "sessions", count)
	}
}
