// disaster-top shows a running disaster-manager in the terminal: per-tool
// extrusion, drift against the jam threshold and recent pause requests.
//
// Usage:
//
//	disaster-top [--url ws://host:7130/websocket]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jessevdk/go-flags"

	"disaster-manager-go/pkg/monitor"
)

type options struct {
	URL     string        `short:"u" long:"url" description:"host link WebSocket" default:"ws://127.0.0.1:7130/websocket"`
	Timeout time.Duration `long:"timeout" description:"connect timeout" default:"5s"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.HelpFlag).Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	client, err := monitor.Dial(ctx, opts.URL)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	p := tea.NewProgram(monitor.NewModel(client, opts.URL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
