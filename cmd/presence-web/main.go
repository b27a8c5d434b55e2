// Command presence-web is the add-on service: it connects to the Home
// Assistant instance over the best available transport, serves the zone
// configuration REST API and fans live state out to browser sessions.
//
// Usage:
//
//	presence-web [flags]
//
// Flags:
//
//	-config string     Config file path (default "/data/options.yaml")
//	-listen string     Listen address override
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// The access token is usually taken from SUPERVISOR_TOKEN; a token in
// the config file is only used when the environment has none.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Migushthe2nd/everything-presence-addons/internal/config"
)

// Version information - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "dev"
	GitCommit = "unknown"
)

var (
	configPath  = flag.String("config", "/data/options.yaml", "Config file path")
	listenAddr  = flag.String("listen", "", "Listen address override")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("presence-web %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
		return 0
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	srv, err := NewServer(context.Background(), cfg, Version, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		return 1
	}
	defer srv.Close()

	logger.Info("presence-web listening",
		"addr", cfg.Server.ListenAddr,
		"platform", cfg.Platform.BaseURL,
		"version", Version)

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
