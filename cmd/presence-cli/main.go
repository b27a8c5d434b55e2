// Command presence-cli is an interactive shell against a Home Assistant
// instance: list and watch entity states, call services and discover
// instances, over the same transport stack the add-on service uses.
//
// Usage:
//
//	presence-cli [flags]
//
// Flags:
//
//	-config string     Config file path (default "/data/options.yaml")
//	-url string        Platform base URL override
//	-token string      Access token override
//	-polling           Force the polling transport
//	-log-level string  Log level: debug, info, warn, error (default "warn")
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Migushthe2nd/everything-presence-addons/cmd/presence-cli/interactive"
	"github.com/Migushthe2nd/everything-presence-addons/internal/config"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/transport"
)

var (
	configPath   = flag.String("config", "/data/options.yaml", "Config file path")
	baseURL      = flag.String("url", "", "Platform base URL override")
	token        = flag.String("token", "", "Access token override")
	forcePolling = flag.Bool("polling", false, "Force the polling transport")
	logLevel     = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if *token != "" {
		// Let the override win over SUPERVISOR_TOKEN.
		os.Setenv(config.EnvSupervisorToken, *token)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *baseURL != "" {
		cfg.Platform.BaseURL = *baseURL
	}
	if *forcePolling {
		cfg.Platform.DisableStreaming = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	handle, status, err := transport.Select(ctx, transport.SelectorConfig{
		Streaming: transport.StreamingConfig{
			URL:         cfg.WebSocketURL(),
			AccessToken: cfg.Platform.Token,
			Logger:      logger,
		},
		Polling: transport.PollingConfig{
			BaseURL:     cfg.Platform.BaseURL,
			AccessToken: cfg.Platform.Token,
			Logger:      logger,
		},
		DisableStreaming: cfg.Platform.DisableStreaming,
		StreamingTimeout: cfg.Platform.StreamingTimeout.Std(),
		Logger:           logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: connecting to %s: %v\n", cfg.Platform.BaseURL, err)
		return 1
	}
	defer handle.Close()

	fmt.Printf("Connected to %s via %s\n", cfg.Platform.BaseURL, status.Active)

	shell, err := interactive.New(handle, status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	shell.Run(ctx, cancel)
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
