// Command presence-log views and analyzes transport capture files.
//
// Capture files are written by presence-web when the event_log path is
// configured; they record every protocol message, connection state
// change and error on the upstream transports and the fan-out hub.
//
// Usage:
//
//	presence-log <command> [flags] <capture.cbor>
//
// Commands:
//
//	view     View a capture file in human-readable format
//	export   Export a capture file to JSONL
//	stats    Show statistics about a capture file
//
// Examples:
//
//	# View all events
//	presence-log view capture.cbor
//
//	# View only incoming messages
//	presence-log view -direction in capture.cbor
//
//	# View one entity's deliveries
//	presence-log view -entity sensor.hallway_target_1_x capture.cbor
//
//	# Export to JSONL
//	presence-log export capture.cbor > capture.jsonl
//
//	# Show statistics
//	presence-log stats capture.cbor
package main

import (
	"fmt"
	"os"

	"github.com/Migushthe2nd/everything-presence-addons/cmd/presence-log/commands"
)

const usage = `presence-log - transport capture analyzer

Usage:
  presence-log <command> [flags] <capture.cbor>

Commands:
  view     View a capture file in human-readable format
  export   Export a capture file to JSONL
  stats    Show statistics about a capture file

Use "presence-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = commands.RunViewCommand(args)
	case "export":
		err = commands.RunExportCommand(args)
	case "stats":
		err = commands.RunStatsCommand(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
