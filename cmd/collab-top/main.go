// Command collab-top is a terminal console that polls one peer's admin
// snapshot and shows its peers, ownership claims and resident graphs.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "Control address of the peer")
	interval := flag.Duration("interval", 2*time.Second, "Refresh interval")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout")
	flag.Parse()

	p := tea.NewProgram(initialModel(newFetcher(*addr, *timeout), *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "collab-top: %v\n", err)
		os.Exit(1)
	}
}
