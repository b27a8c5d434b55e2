package transport

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// subscription is one registered listener. deliverMu serializes callback
// invocations so a callback is never concurrent with itself; different
// subscriptions may still be notified in parallel.
type subscription struct {
	id     string
	filter map[string]struct{} // empty = match all
	fn     ChangeFunc

	deliverMu sync.Mutex
}

// matches reports whether the subscription wants updates for entityID.
func (s *subscription) matches(entityID string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[entityID]
	return ok
}

// deliver invokes the callback, serialized per subscription and with
// panic isolation.
func (s *subscription) deliver(entityID string, newState, oldState *wire.State, logger *slog.Logger) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panicked",
				"subscription_id", s.id,
				"entity_id", entityID,
				"panic", r)
		}
	}()

	s.fn(entityID, newState, oldState)
}

// registry tracks the subscriptions of one transport handle. It is owned
// by the transport and mutated only through the handle's public
// operations.
type registry struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	logger *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &registry{
		subs:   make(map[string]*subscription),
		logger: logger,
	}
}

// add registers a subscription and returns its id.
func (r *registry) add(entityIDs []string, fn ChangeFunc) string {
	filter := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		filter[id] = struct{}{}
	}

	sub := &subscription{
		id:     uuid.NewString(),
		filter: filter,
		fn:     fn,
	}

	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()

	return sub.id
}

// remove deletes a subscription. Returns false for unknown ids.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// count returns the number of active subscriptions.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// interestUnion returns the union of all entity filters. all is true
// when any subscription has an empty filter, in which case ids is nil
// and the caller should fetch the full state set.
func (r *registry) interestUnion() (ids []string, all bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := make(map[string]struct{})
	for _, sub := range r.subs {
		if len(sub.filter) == 0 {
			return nil, true
		}
		for id := range sub.filter {
			union[id] = struct{}{}
		}
	}

	ids = make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	return ids, false
}

// dispatch delivers one change to every matching subscription. Called
// from the transport's single event loop, which preserves per-entity
// ordering.
func (r *registry) dispatch(entityID string, newState, oldState *wire.State) {
	r.mu.RLock()
	matching := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.matches(entityID) {
			matching = append(matching, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range matching {
		sub.deliver(entityID, newState, oldState, r.logger)
	}
}

// snapshot returns the current subscriptions for per-subscription
// processing (polling diff). The returned slice is a copy; the
// subscriptions themselves are shared.
func (r *registry) snapshot() []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	return subs
}
