package commands

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
)

// exportedEvent is the JSONL representation of one capture event.
type exportedEvent struct {
	Timestamp    string                     `json:"timestamp"`
	ConnectionID string                     `json:"connection_id"`
	Transport    string                     `json:"transport"`
	Direction    string                     `json:"direction"`
	Category     string                     `json:"category"`
	Message      *eventlog.MessageEvent     `json:"message,omitempty"`
	StateChange  *eventlog.StateChangeEvent `json:"state_change,omitempty"`
	Error        *eventlog.ErrorEvent       `json:"error,omitempty"`
}

// RunExportCommand parses flags and runs the export command.
func RunExportCommand(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	outPath := fs.String("o", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: presence-log export [flags] <capture.cbor>")
	}

	out := io.Writer(os.Stdout)
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	return RunExport(fs.Arg(0), out)
}

// RunExport writes the capture file as one JSON object per line.
func RunExport(path string, output io.Writer) error {
	reader, err := eventlog.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	enc := json.NewEncoder(output)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		if err := enc.Encode(exportedEvent{
			Timestamp:    event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			ConnectionID: event.ConnectionID,
			Transport:    event.Transport,
			Direction:    event.Direction.String(),
			Category:     event.Category.String(),
			Message:      event.Message,
			StateChange:  event.StateChange,
			Error:        event.Error,
		}); err != nil {
			return err
		}
	}
}
