package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a supervised add-on installation.
const (
	DefaultBaseURL    = "http://supervisor/core"
	DefaultListenAddr = ":8099"
	DefaultDBPath     = "/data/presence.db"
)

// Environment variables consulted after the file is read. The
// supervisor token takes precedence over a token from the file.
const (
	EnvSupervisorToken = "SUPERVISOR_TOKEN"
	EnvToken           = "HA_TOKEN"
	EnvBaseURL         = "HA_BASE_URL"
)

// ErrMissingToken indicates no access token was found in the file or
// the environment.
var ErrMissingToken = errors.New("no access token configured")

// Duration wraps time.Duration for YAML fields like "5s" or "1500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Platform configures the upstream connection.
type Platform struct {
	// BaseURL is the platform HTTP base, e.g. "http://homeassistant.local:8123".
	BaseURL string `yaml:"base_url"`

	// Token is the long-lived access token. Usually supplied via
	// SUPERVISOR_TOKEN rather than the file.
	Token string `yaml:"token"`

	// DisableStreaming forces the polling transport.
	DisableStreaming bool `yaml:"disable_streaming"`

	// StreamingTimeout bounds the streaming connection attempt before
	// falling back to polling. Zero means the transport default.
	StreamingTimeout Duration `yaml:"streaming_timeout"`

	// PollInterval is the polling transport interval. Zero means the
	// transport default.
	PollInterval Duration `yaml:"poll_interval"`

	// ReconnectDelay is the streaming reconnect delay. Zero means the
	// transport default.
	ReconnectDelay Duration `yaml:"reconnect_delay"`
}

// Server configures the HTTP frontend.
type Server struct {
	// ListenAddr is the bind address (default ":8099").
	ListenAddr string `yaml:"listen"`
}

// Storage configures persistence.
type Storage struct {
	// DBPath is the SQLite database path (default "/data/presence.db").
	DBPath string `yaml:"db_path"`
}

// Profiles configures device profile loading.
type Profiles struct {
	// Dir holds extra profile YAML files layered over the embedded set.
	Dir string `yaml:"dir"`
}

// EventLog configures protocol event capture.
type EventLog struct {
	// Path is the capture file. Empty disables capture.
	Path string `yaml:"path"`
}

// Config is the full add-on configuration.
type Config struct {
	Platform Platform `yaml:"platform"`
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Profiles Profiles `yaml:"profiles"`
	EventLog EventLog `yaml:"event_log"`
}

// Load reads the config file, overlays the environment and applies
// defaults. A missing file yields a default config; a malformed file is
// an error.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment are enough for a supervised install.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.overlayEnv()
	cfg.applyDefaults()

	if cfg.Platform.Token == "" {
		return nil, ErrMissingToken
	}
	return &cfg, nil
}

func (c *Config) overlayEnv() {
	if v := os.Getenv(EnvSupervisorToken); v != "" {
		c.Platform.Token = v
	} else if v := os.Getenv(EnvToken); v != "" && c.Platform.Token == "" {
		c.Platform.Token = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Platform.BaseURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Platform.BaseURL == "" {
		c.Platform.BaseURL = DefaultBaseURL
	}
	c.Platform.BaseURL = strings.TrimRight(c.Platform.BaseURL, "/")
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath
	}
}

// WebSocketURL derives the platform websocket endpoint from the base
// URL: http becomes ws, https becomes wss, path /api/websocket.
func (c *Config) WebSocketURL() string {
	base := c.Platform.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/websocket"
}
