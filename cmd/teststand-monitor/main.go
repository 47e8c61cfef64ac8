// Command teststand-monitor is a read-only operator dashboard over the
// device registry: a live list of connected devices, their sync
// freshness and pending-control counts, and a host CPU/mem strip. It
// never issues a command itself.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/qret-proptestbench/teststand/internal/device"
	"github.com/qret-proptestbench/teststand/internal/snapshot"
)

func main() {
	path := flag.String("snapshot", "", "path to the server's snapshot file (TESTSTAND_SNAPSHOT_PATH on the server)")
	flag.Parse()

	if *path == "" {
		*path = os.Getenv("TESTSTAND_SNAPSHOT_PATH")
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "teststand-monitor: no snapshot path given; pass -snapshot or set TESTSTAND_SNAPSHOT_PATH")
		os.Exit(1)
	}

	source := func() []device.Snapshot {
		snaps, err := snapshot.Read(*path)
		if err != nil {
			return nil
		}
		return snaps
	}

	p := tea.NewProgram(NewModel(source), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "teststand-monitor: %v\n", err)
		os.Exit(1)
	}
}
