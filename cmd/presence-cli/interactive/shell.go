// Package interactive provides the interactive command-line interface
// for the presence CLI.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/discovery"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/transport"
	"github.com/Migushthe2nd/everything-presence-addons/pkg/wire"
)

// Shell handles interactive mode for presence-cli.
type Shell struct {
	handle  transport.Handle
	status  transport.Status
	browser discovery.Browser
	rl      *readline.Instance

	watchID string
}

// New creates a new interactive shell.
func New(handle transport.Handle, status transport.Status) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "presence> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Shell{
		handle:  handle,
		status:  status,
		browser: discovery.NewMDNSBrowser(discovery.BrowserConfig{}),
		rl:      rl,
	}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "states", "ls":
			s.cmdStates(ctx, args)

		case "get", "g":
			s.cmdGet(ctx, args)

		case "call", "c":
			s.cmdCall(ctx, args)

		case "watch", "w":
			s.cmdWatch(args)

		case "unwatch":
			s.cmdUnwatch()

		case "discover":
			s.cmdDiscover(ctx)

		case "status":
			s.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
Presence CLI Commands:
  Entities:
    states [filter]                    - List entity states (optional substring filter)
    get <entity-id>                    - Show one entity with attributes
    call <domain.service> <entity-id> [key=value ...]
                                       - Call a service, e.g. call number.set_value number.epl_zone_1_begin_x value=100

  Live:
    watch [entity-id ...]              - Stream state changes (no args: all entities)
    unwatch                            - Stop streaming

  General:
    discover                           - Find Home Assistant instances via mDNS
    status                             - Show transport status
    help                               - Show this help
    quit                               - Exit`)
}

// cmdStates handles the states command.
func (s *Shell) cmdStates(ctx context.Context, args []string) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	states, err := s.handle.GetAllStates(reqCtx)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Failed to fetch states: %v\n", err)
		return
	}

	var filter string
	if len(args) > 0 {
		filter = args[0]
	}

	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })

	shown := 0
	for _, st := range states {
		if filter != "" && !strings.Contains(st.EntityID, filter) {
			continue
		}
		fmt.Fprintf(s.rl.Stdout(), "  %-55s %s\n", st.EntityID, st.State)
		shown++
	}
	fmt.Fprintf(s.rl.Stdout(), "%d entities\n", shown)
}

// cmdGet handles the get command.
func (s *Shell) cmdGet(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: get <entity-id>")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := s.handle.GetState(reqCtx, args[0])
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Failed to fetch %s: %v\n", args[0], err)
		return
	}

	fmt.Fprintf(s.rl.Stdout(), "%s = %s\n", st.EntityID, st.State)
	fmt.Fprintf(s.rl.Stdout(), "  last changed: %s\n", st.LastChanged.Format(time.RFC3339))
	if len(st.Attributes) > 0 {
		keys := make([]string, 0, len(st.Attributes))
		for k := range st.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(s.rl.Stdout(), "  %s: %v\n", k, st.Attributes[k])
		}
	}
}

// cmdCall handles the call command.
func (s *Shell) cmdCall(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: call <domain.service> <entity-id> [key=value ...]")
		return
	}

	domain, service, ok := strings.Cut(args[0], ".")
	if !ok {
		fmt.Fprintln(s.rl.Stdout(), "Service must be <domain.service>, e.g. number.set_value")
		return
	}

	data := make(map[string]any)
	for _, kv := range args[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			fmt.Fprintf(s.rl.Stdout(), "Ignoring %q: expected key=value\n", kv)
			continue
		}
		data[k] = parseValue(v)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.handle.CallService(reqCtx, domain, service, data,
		map[string]any{"entity_id": args[1]})
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Call failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "OK")
}

// cmdWatch handles the watch command.
func (s *Shell) cmdWatch(args []string) {
	if s.watchID != "" {
		fmt.Fprintln(s.rl.Stdout(), "Already watching (use 'unwatch' first)")
		return
	}

	id, err := s.handle.SubscribeStateChanges(args, func(entityID string, newState, oldState *wire.State) {
		if newState == nil {
			fmt.Fprintf(s.rl.Stdout(), "[%s] %s removed\n", time.Now().Format("15:04:05"), entityID)
			return
		}
		old := "?"
		if oldState != nil {
			old = oldState.State
		}
		fmt.Fprintf(s.rl.Stdout(), "[%s] %s: %s -> %s\n",
			time.Now().Format("15:04:05"), entityID, old, newState.State)
	})
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Watch failed: %v\n", err)
		return
	}
	s.watchID = id

	if len(args) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "Watching all entities...")
	} else {
		fmt.Fprintf(s.rl.Stdout(), "Watching %d entities...\n", len(args))
	}
}

// cmdUnwatch handles the unwatch command.
func (s *Shell) cmdUnwatch() {
	if s.watchID == "" {
		fmt.Fprintln(s.rl.Stdout(), "Not watching")
		return
	}
	s.handle.Unsubscribe(s.watchID)
	s.watchID = ""
	fmt.Fprintln(s.rl.Stdout(), "Stopped")
}

// cmdDiscover handles the discover command.
func (s *Shell) cmdDiscover(ctx context.Context) {
	fmt.Fprintln(s.rl.Stdout(), "Browsing for Home Assistant instances...")

	browseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results, err := s.browser.Browse(browseCtx)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Discovery error: %v\n", err)
		return
	}

	found := 0
	for inst := range results {
		found++
		fmt.Fprintf(s.rl.Stdout(), "  %d. %s (%s", found, inst.Name, inst.URL())
		if inst.Version != "" {
			fmt.Fprintf(s.rl.Stdout(), ", version %s", inst.Version)
		}
		fmt.Fprintln(s.rl.Stdout(), ")")
	}
	if found == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No instances found")
	}
}

// cmdStatus handles the status command.
func (s *Shell) cmdStatus() {
	fmt.Fprintln(s.rl.Stdout(), "\nTransport Status")
	fmt.Fprintln(s.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(s.rl.Stdout(), "  Active:              %s\n", s.status.Active)
	fmt.Fprintf(s.rl.Stdout(), "  Streaming available: %t\n", s.status.StreamingAvailable)
	fmt.Fprintf(s.rl.Stdout(), "  Polling available:   %t\n", s.status.PollingAvailable)
	if s.watchID != "" {
		fmt.Fprintf(s.rl.Stdout(), "  Watching:            yes\n")
	}
	fmt.Fprintln(s.rl.Stdout())
}

// parseValue converts a command-line value to the closest JSON type.
func parseValue(raw string) any {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return strings.Trim(raw, "\"'")
}
