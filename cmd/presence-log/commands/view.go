// Package commands implements the presence-log CLI commands.
package commands

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
)

// RunViewCommand parses flags and runs the view command.
func RunViewCommand(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	direction := fs.String("direction", "", "Filter by direction: in, out")
	category := fs.String("category", "", "Filter by category: message, state, error")
	transportName := fs.String("transport", "", "Filter by transport: websocket, rest, fanout")
	connID := fs.String("conn-id", "", "Filter by connection/session id")
	entityID := fs.String("entity", "", "Filter message events by entity id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: presence-log view [flags] <capture.cbor>")
	}

	filter := eventlog.Filter{
		ConnectionID: *connID,
		Transport:    *transportName,
		EntityID:     *entityID,
	}
	if *direction != "" {
		d, err := parseDirection(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := parseCategory(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}

	return RunView(fs.Arg(0), filter, os.Stdout)
}

// RunView streams matching events to output in human-readable form.
func RunView(path string, filter eventlog.Filter, output io.Writer) error {
	reader, err := eventlog.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}

// formatEvent writes a human-readable representation of one event.
func formatEvent(w io.Writer, event eventlog.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	var typeLabel string
	switch {
	case event.Message != nil:
		typeLabel = event.Message.Type
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-4s %-9s %s\n",
		ts, connID, event.Direction.String(), event.Transport, typeLabel)

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatMessageDetails(w io.Writer, msg *eventlog.MessageEvent) {
	if msg.CorrelationID != 0 {
		fmt.Fprintf(w, "  CorrelationID: %d\n", msg.CorrelationID)
	}
	if msg.EntityID != "" {
		fmt.Fprintf(w, "  Entity: %s\n", msg.EntityID)
	}
	if msg.Size > 0 {
		fmt.Fprintf(w, "  Size: %d bytes\n", msg.Size)
	}
}

func formatStateChangeDetails(w io.Writer, sc *eventlog.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *eventlog.ErrorEvent) {
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (eventlog.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return eventlog.DirectionIn, nil
	case "out":
		return eventlog.DirectionOut, nil
	case "none":
		return eventlog.DirectionNone, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in, out, or none)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (eventlog.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return eventlog.CategoryMessage, nil
	case "state":
		return eventlog.CategoryState, nil
	case "error":
		return eventlog.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}
