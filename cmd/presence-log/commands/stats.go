package commands

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/Migushthe2nd/everything-presence-addons/pkg/eventlog"
)

// Stats accumulates summary statistics over a capture file.
type Stats struct {
	Total       int
	ByTransport map[string]int
	ByCategory  map[string]int
	ByDirection map[string]int
	ByEntity    map[string]int
	Errors      int
	Bytes       int
	First       time.Time
	Last        time.Time
}

// RunStatsCommand parses flags and runs the stats command.
func RunStatsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	topEntities := fs.Int("top", 10, "Number of entities to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: presence-log stats [flags] <capture.cbor>")
	}

	stats, err := Collect(fs.Arg(0))
	if err != nil {
		return err
	}
	printStats(os.Stdout, stats, *topEntities)
	return nil
}

// Collect reads the whole capture file and accumulates statistics.
func Collect(path string) (*Stats, error) {
	reader, err := eventlog.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		ByTransport: make(map[string]int),
		ByCategory:  make(map[string]int),
		ByDirection: make(map[string]int),
		ByEntity:    make(map[string]int),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event eventlog.Event) {
	s.Total++
	s.ByTransport[event.Transport]++
	s.ByCategory[event.Category.String()]++
	s.ByDirection[event.Direction.String()]++

	if event.Category == eventlog.CategoryError {
		s.Errors++
	}
	if event.Message != nil {
		s.Bytes += event.Message.Size
		if event.Message.EntityID != "" {
			s.ByEntity[event.Message.EntityID]++
		}
	}

	if s.First.IsZero() || event.Timestamp.Before(s.First) {
		s.First = event.Timestamp
	}
	if event.Timestamp.After(s.Last) {
		s.Last = event.Timestamp
	}
}

func printStats(w io.Writer, s *Stats, top int) {
	fmt.Fprintf(w, "Events:   %d\n", s.Total)
	if s.Total == 0 {
		return
	}
	fmt.Fprintf(w, "Span:     %s to %s (%s)\n",
		s.First.UTC().Format(time.RFC3339),
		s.Last.UTC().Format(time.RFC3339),
		s.Last.Sub(s.First).Round(time.Second))
	fmt.Fprintf(w, "Errors:   %d\n", s.Errors)
	fmt.Fprintf(w, "Payload:  %d bytes\n", s.Bytes)

	fmt.Fprintln(w, "\nBy transport:")
	printCounts(w, s.ByTransport, 0)
	fmt.Fprintln(w, "\nBy category:")
	printCounts(w, s.ByCategory, 0)
	fmt.Fprintln(w, "\nBy direction:")
	printCounts(w, s.ByDirection, 0)

	if len(s.ByEntity) > 0 {
		fmt.Fprintf(w, "\nTop %d entities:\n", top)
		printCounts(w, s.ByEntity, top)
	}
}

// printCounts writes a count map sorted by count descending. limit 0
// prints every key.
func printCounts(w io.Writer, counts map[string]int, limit int) {
	type kv struct {
		key   string
		count int
	}
	sorted := make([]kv, 0, len(counts))
	for k, v := range counts {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].key < sorted[j].key
	})

	for i, e := range sorted {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(w, "  %-45s %d\n", e.key, e.count)
	}
}
