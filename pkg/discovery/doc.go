// Package discovery finds Home Assistant instances on the local network
// via mDNS. The platform advertises itself as _home-assistant._tcp with
// TXT records carrying the base URL and version; browsing yields base
// URL candidates for first-run configuration.
package discovery
