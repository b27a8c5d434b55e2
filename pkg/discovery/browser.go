package discovery

import (
	"context"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Browser provides mDNS browsing for platform instances.
type Browser interface {
	// Browse searches for instances. The channel is closed when the
	// context is cancelled. Instances reappearing on additional network
	// interfaces are merged, not re-emitted.
	Browse(ctx context.Context) (<-chan *Instance, error)

	// FindFirst returns the first instance found, or ErrNotFound after
	// the browse timeout.
	FindFirst(ctx context.Context) (*Instance, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindFirst (default: 10s).
	BrowseTimeout time.Duration

	// Interface restricts browsing to one network interface.
	// Empty means all interfaces.
	Interface string
}

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
}

// NewMDNSBrowser creates an mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	return &MDNSBrowser{config: config}
}

var _ Browser = (*MDNSBrowser)(nil)

// Browse searches for platform instances. Entries arriving from
// multiple interfaces are aggregated by instance name so each instance
// is emitted once with merged addresses.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Instance, error) {
	out := make(chan *Instance)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	opts := b.browserOptions()

	go func() {
		defer close(out)

		instances := make(map[string]*Instance)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				inst := entryToInstance(entry)

				existing, found := instances[inst.Name]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, inst.Addresses)
					continue
				}
				instances[inst.Name] = inst
				select {
				case out <- inst:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := instances[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(instances, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// FindFirst returns the first discovered instance.
func (b *MDNSBrowser) FindFirst(ctx context.Context) (*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case inst, ok := <-results:
		if !ok {
			return nil, ErrNotFound
		}
		return inst, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrBrowseTimeout
		}
		return nil, ctx.Err()
	}
}

func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToInstance converts a zeroconf entry to an Instance.
func entryToInstance(entry *zeroconf.ServiceEntry) *Instance {
	txt := decodeTXT(entry.Text)

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	baseURL := txt[TXTKeyBaseURL]
	if baseURL == "" {
		baseURL = txt[TXTKeyInternalURL]
	}

	return &Instance{
		Name:         entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
		Version:      txt[TXTKeyVersion],
		LocationName: txt[TXTKeyLocationName],
		UUID:         txt[TXTKeyUUID],
		BaseURL:      baseURL,
	}
}

// mergeAddresses adds new addresses to the existing list, avoiding
// duplicates.
func mergeAddresses(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range more {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses carried by a removal entry.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
