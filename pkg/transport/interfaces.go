package transport

import (
	"context"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// Kind identifies the backing implementation of a Handle.
type Kind string

const (
	// KindStreaming is the persistent websocket implementation.
	KindStreaming Kind = "websocket"

	// KindPolling is the REST snapshot-diff implementation.
	KindPolling Kind = "rest"
)

// ChangeFunc receives one state change. oldState is nil when no previous
// observation exists. Implementations must not block for long; delivery
// for one subscription is serialized.
type ChangeFunc func(entityID string, newState, oldState *wire.State)

// Handle is the uniform contract over both transport implementations.
// Callers never branch on the concrete type except for status reporting
// via Kind.
type Handle interface {
	// Connect establishes the upstream channel. For streaming this runs
	// the full auth handshake; for polling it performs one reachability
	// check.
	Connect(ctx context.Context) error

	// Close shuts the handle down permanently. All pending requests fail
	// and no reconnection is attempted afterwards.
	Close() error

	// Kind reports which implementation backs this handle.
	Kind() Kind

	// GetState fetches the current state of one entity.
	// Returns ErrNotFound if the entity does not exist upstream.
	GetState(ctx context.Context, entityID string) (*wire.State, error)

	// GetStates fetches the given entities. The result contains exactly
	// the subset of ids that exist upstream; missing ids are simply
	// absent, never an error.
	GetStates(ctx context.Context, entityIDs []string) (map[string]*wire.State, error)

	// GetAllStates fetches every entity state the platform knows.
	GetAllStates(ctx context.Context) ([]*wire.State, error)

	// CallService invokes a platform service. data and target may be nil.
	CallService(ctx context.Context, domain, service string, data, target map[string]any) error

	// SubscribeStateChanges registers onChange for the given entity ids.
	// An empty entityIDs slice means "notify for every entity". The
	// returned id is usable with Unsubscribe. Subscriptions survive
	// reconnects without caller involvement.
	SubscribeStateChanges(entityIDs []string, onChange ChangeFunc) (string, error)

	// Unsubscribe removes a subscription. Removing an unknown id is a
	// no-op.
	Unsubscribe(id string)

	// ListDevices returns the platform device registry.
	ListDevices(ctx context.Context) ([]wire.DeviceEntry, error)

	// ListEntities returns the platform entity registry.
	ListEntities(ctx context.Context) ([]wire.EntityEntry, error)

	// ListAreas returns the platform area registry.
	ListAreas(ctx context.Context) ([]wire.AreaEntry, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Handle = (*Streaming)(nil)
	_ Handle = (*Polling)(nil)
)
