package discovery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// mDNS constants.
const (
	// ServiceType is the service the platform advertises.
	ServiceType = "_home-assistant._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the platform's default HTTP port.
	DefaultPort = 8123

	// BrowseTimeout is the default timeout for browse operations.
	BrowseTimeout = 10 * time.Second
)

// TXT record keys the platform publishes.
const (
	TXTKeyBaseURL      = "base_url"
	TXTKeyInternalURL  = "internal_url"
	TXTKeyExternalURL  = "external_url"
	TXTKeyVersion      = "version"
	TXTKeyLocationName = "location_name"
	TXTKeyUUID         = "uuid"
)

// Discovery errors.
var (
	ErrNotFound      = errors.New("no instance found")
	ErrBrowseTimeout = errors.New("browse timeout")
)

// Instance is one discovered platform instance.
type Instance struct {
	// Name is the mDNS instance name, usually the location name.
	Name string

	// Host is the advertised hostname, e.g. "homeassistant.local.".
	Host string

	// Port is the advertised HTTP port.
	Port uint16

	// Addresses contains the resolved IP addresses.
	Addresses []string

	// Version is the platform version (TXT "version").
	Version string

	// LocationName is the user-facing installation name
	// (TXT "location_name").
	LocationName string

	// UUID is the installation id (TXT "uuid").
	UUID string

	// BaseURL is the advertised base URL (TXT "base_url" or
	// "internal_url"), if any.
	BaseURL string
}

// URL returns the best base URL candidate for this instance: the
// advertised base URL when present, otherwise one derived from host and
// port.
func (i *Instance) URL() string {
	if i.BaseURL != "" {
		return strings.TrimRight(i.BaseURL, "/")
	}
	host := strings.TrimRight(i.Host, ".")
	if host == "" && len(i.Addresses) > 0 {
		host = i.Addresses[0]
	}
	port := i.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// decodeTXT parses "key=value" TXT strings into a map. Malformed
// entries are skipped.
func decodeTXT(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, kv := range text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
