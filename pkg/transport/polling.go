package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// DefaultPollInterval is the fixed delay between poll ticks.
const DefaultPollInterval = time.Second

// Registry fallback templates. The REST surface has no registry
// endpoints, so the template renderer is asked to emit the registries as
// JSON text.
const (
	areaRegistryTemplate = `[{% for id in areas() %}{"area_id":{{ id | tojson }},"name":{{ area_name(id) | tojson }}}{% if not loop.last %},{% endif %}{% endfor %}]`

	deviceRegistryTemplate = `{%- set ns = namespace(ids=[]) -%}
{%- for s in states -%}
{%- set d = device_id(s.entity_id) -%}
{%- if d and d not in ns.ids -%}{%- set ns.ids = ns.ids + [d] -%}{%- endif -%}
{%- endfor -%}
[{% for d in ns.ids %}{"id":{{ d | tojson }},"name":{{ (device_attr(d, "name") or "") | tojson }},"name_by_user":{{ (device_attr(d, "name_by_user") or "") | tojson }},"manufacturer":{{ (device_attr(d, "manufacturer") or "") | tojson }},"model":{{ (device_attr(d, "model") or "") | tojson }},"area_id":{{ (area_id(d) or "") | tojson }}}{% if not loop.last %},{% endif %}{% endfor %}]`

	entityRegistryTemplate = `[{% for s in states %}{"entity_id":{{ s.entity_id | tojson }},"device_id":{{ (device_id(s.entity_id) or "") | tojson }},"area_id":{{ (area_id(s.entity_id) or "") | tojson }}}{% if not loop.last %},{% endif %}{% endfor %}]`
)

// PollingConfig configures the REST transport.
type PollingConfig struct {
	// BaseURL is the REST endpoint root, e.g. "http://hass.local:8123".
	BaseURL string

	// AccessToken is the bearer token sent with every request.
	AccessToken string

	// PollInterval is the fixed delay between poll ticks (default: 1s).
	PollInterval time.Duration

	// RequestTimeout bounds each HTTP request (default: 10s).
	RequestTimeout time.Duration

	// HTTPClient overrides the HTTP client. Nil uses a client bounded by
	// RequestTimeout.
	HTTPClient *http.Client

	// Logger receives application logs. Nil uses slog.Default().
	Logger *slog.Logger

	// EventLog receives protocol capture events. Nil disables capture.
	EventLog eventlog.Logger

	// Poller overrides the poll scheduler.
	// Set this in tests to drive ticks with virtual time.
	Poller Scheduler
}

// Polling is the REST transport. Reads and writes map to individual
// HTTP requests; subscriptions are emulated by polling the interest set
// and synthesizing change notifications from snapshot diffs.
type Polling struct {
	config PollingConfig
	logger *slog.Logger
	events eventlog.Logger
	client *http.Client
	connID string

	mu        sync.Mutex
	connected bool
	closed    bool

	registry *registry
	poller   Scheduler

	// lastKnown holds the previous snapshot per subscription, keyed by
	// subscription id then entity id. Guarded by lastKnownMu; ticks run
	// one at a time so this only races with Unsubscribe cleanup.
	lastKnownMu sync.Mutex
	lastKnown   map[string]map[string]*wire.State
}

// NewPolling creates a polling transport. Connect must be called before
// the handle is usable.
func NewPolling(config PollingConfig) *Polling {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var events eventlog.Logger = eventlog.NoopLogger{}
	if config.EventLog != nil {
		events = config.EventLog
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}

	p := &Polling{
		config:    config,
		logger:    logger,
		events:    events,
		client:    client,
		registry:  newRegistry(logger),
		lastKnown: make(map[string]map[string]*wire.State),
	}
	p.poller = config.Poller
	if p.poller == nil {
		p.poller = NewIntervalScheduler(config.PollInterval, true)
	}
	return p
}

// Kind reports the backing implementation.
func (p *Polling) Kind() Kind {
	return KindPolling
}

// Connect performs one reachability check against the REST root.
func (p *Polling) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrConnectionClosed
	}
	if p.connected {
		p.mu.Unlock()
		return ErrAlreadyConnected
	}
	p.mu.Unlock()

	if _, err := p.get(ctx, "/api/"); err != nil {
		return err
	}

	p.mu.Lock()
	p.connected = true
	p.connID = uuid.NewString()
	p.mu.Unlock()

	p.logger.Debug("rest endpoint reachable", "base_url", p.config.BaseURL)
	return nil
}

// Close shuts the transport down permanently and stops the poll loop.
func (p *Polling) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.connected = false
	p.mu.Unlock()

	p.poller.Stop()
	return nil
}

// GetState fetches one entity via GET /api/states/{id}.
func (p *Polling) GetState(ctx context.Context, entityID string) (*wire.State, error) {
	body, err := p.get(ctx, "/api/states/"+url.PathEscape(entityID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
		}
		return nil, err
	}
	var state wire.State
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decoding state %s: %w", entityID, err)
	}
	return &state, nil
}

// GetStates fetches the given entities one request each. Missing ids
// are absent from the result, never an error.
func (p *Polling) GetStates(ctx context.Context, entityIDs []string) (map[string]*wire.State, error) {
	result := make(map[string]*wire.State, len(entityIDs))
	for _, id := range entityIDs {
		state, err := p.GetState(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[id] = state
	}
	return result, nil
}

// GetAllStates fetches every entity via GET /api/states.
func (p *Polling) GetAllStates(ctx context.Context) ([]*wire.State, error) {
	body, err := p.get(ctx, "/api/states")
	if err != nil {
		return nil, err
	}
	var states []*wire.State
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, fmt.Errorf("decoding states: %w", err)
	}
	return states, nil
}

// CallService invokes a platform service via POST. Target selectors are
// merged into the request body next to the service data.
func (p *Polling) CallService(ctx context.Context, domain, service string, data, target map[string]any) error {
	body := make(map[string]any, len(data)+len(target))
	for k, v := range data {
		body[k] = v
	}
	for k, v := range target {
		body[k] = v
	}
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	_, err := p.post(ctx, path, body)
	return err
}

// SubscribeStateChanges registers a local subscription and starts the
// poll loop if it is not already running.
func (p *Polling) SubscribeStateChanges(entityIDs []string, onChange ChangeFunc) (string, error) {
	id := p.registry.add(entityIDs, onChange)

	p.mu.Lock()
	start := !p.closed && !p.poller.Active()
	p.mu.Unlock()
	if start {
		p.poller.Start(p.tick)
	}

	return id, nil
}

// Unsubscribe removes a subscription, drops its snapshot memory, and
// stops the poll loop when no subscriptions remain.
func (p *Polling) Unsubscribe(id string) {
	if !p.registry.remove(id) {
		return
	}

	p.lastKnownMu.Lock()
	delete(p.lastKnown, id)
	p.lastKnownMu.Unlock()

	if p.registry.count() == 0 {
		p.poller.Stop()
	}
}

// tick runs one poll cycle: fetch the interest union, then diff against
// each subscription's previous snapshot and deliver synthesized changes.
// Errors are logged and tolerated; the next tick retries.
func (p *Polling) tick() {
	subs := p.registry.snapshot()
	if len(subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.RequestTimeout)
	defer cancel()

	ids, all := p.registry.interestUnion()

	current := make(map[string]*wire.State)
	if all {
		states, err := p.GetAllStates(ctx)
		if err != nil {
			p.tickFailed(err)
			return
		}
		for _, s := range states {
			current[s.EntityID] = s
		}
	} else {
		states, err := p.GetStates(ctx, ids)
		if err != nil {
			p.tickFailed(err)
			return
		}
		current = states
	}

	p.lastKnownMu.Lock()
	defer p.lastKnownMu.Unlock()

	for _, sub := range subs {
		prev := p.lastKnown[sub.id]
		if prev == nil {
			prev = make(map[string]*wire.State)
			p.lastKnown[sub.id] = prev
		}

		for entityID, cur := range current {
			if !sub.matches(entityID) {
				continue
			}
			old := prev[entityID]
			prev[entityID] = cur
			if old != nil && !stateChanged(old, cur) {
				continue
			}
			p.events.Log(eventlog.Event{
				Timestamp:    time.Now(),
				ConnectionID: p.connectionID(),
				Transport:    string(KindPolling),
				Direction:    eventlog.DirectionIn,
				Category:     eventlog.CategoryMessage,
				Message:      &eventlog.MessageEvent{Type: wire.EventStateChanged, EntityID: entityID},
			})
			sub.deliver(entityID, cur, old, p.logger)
		}
	}
}

// tickFailed logs one failed poll cycle.
func (p *Polling) tickFailed(err error) {
	p.logger.Warn("poll tick failed", "error", err)
	p.events.Log(eventlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: p.connectionID(),
		Transport:    string(KindPolling),
		Direction:    eventlog.DirectionNone,
		Category:     eventlog.CategoryError,
		Error:        &eventlog.ErrorEvent{Message: err.Error(), Context: "poll"},
	})
}

// stateChanged reports whether two snapshots of the same entity differ.
// Only the state value and its change timestamp are compared; attribute
// churn without a value change is not a state change.
func stateChanged(old, cur *wire.State) bool {
	return old.State != cur.State || !old.LastChanged.Equal(cur.LastChanged)
}

// ListDevices derives the device registry through the template renderer.
func (p *Polling) ListDevices(ctx context.Context) ([]wire.DeviceEntry, error) {
	raw, err := p.renderTemplate(ctx, deviceRegistryTemplate)
	if err != nil {
		return nil, err
	}
	var devices []wire.DeviceEntry
	if err := json.Unmarshal(raw, &devices); err != nil {
		return nil, fmt.Errorf("decoding device registry: %w", err)
	}
	return devices, nil
}

// ListEntities derives the entity registry through the template
// renderer. Registry-only metadata that templates cannot reach (platform,
// disabled_by) is left empty.
func (p *Polling) ListEntities(ctx context.Context) ([]wire.EntityEntry, error) {
	raw, err := p.renderTemplate(ctx, entityRegistryTemplate)
	if err != nil {
		return nil, err
	}
	var entities []wire.EntityEntry
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("decoding entity registry: %w", err)
	}
	return entities, nil
}

// ListAreas derives the area registry through the template renderer.
func (p *Polling) ListAreas(ctx context.Context) ([]wire.AreaEntry, error) {
	raw, err := p.renderTemplate(ctx, areaRegistryTemplate)
	if err != nil {
		return nil, err
	}
	var areas []wire.AreaEntry
	if err := json.Unmarshal(raw, &areas); err != nil {
		return nil, fmt.Errorf("decoding area registry: %w", err)
	}
	return areas, nil
}

// renderTemplate asks the platform to render a template server-side.
func (p *Polling) renderTemplate(ctx context.Context, template string) ([]byte, error) {
	return p.post(ctx, "/api/template", map[string]any{"template": template})
}

// get performs one authenticated GET request.
func (p *Polling) get(ctx context.Context, path string) ([]byte, error) {
	return p.do(ctx, http.MethodGet, path, nil)
}

// post performs one authenticated POST request with a JSON body.
func (p *Polling) post(ctx context.Context, path string, body any) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return p.do(ctx, http.MethodPost, path, encoded)
}

// do performs one HTTP request and maps failures onto the transport
// error taxonomy.
func (p *Polling) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.config.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrConnection, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrConnection, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrConnection, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrAuth, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	default:
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrConnection, method, path, resp.StatusCode)
	}
}

// connectionID returns the id assigned at Connect, for capture events.
func (p *Polling) connectionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connID
}
