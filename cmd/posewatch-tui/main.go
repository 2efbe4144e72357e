package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dj-oyu/posewatch/internal/tui"
)

var version = "dev"

func main() {
	var configPath string
	var server string
	var noBell bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/posewatch/tui.yml)")
	flag.StringVar(&server, "server", "", "posewatch server URL")
	flag.BoolVar(&noBell, "no-bell", false, "do not ring the terminal bell on alerts")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("posewatch-tui %s\n", version)
		return
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if server != "" {
		cfg.Server = server
	}
	if noBell {
		cfg.Bell = false
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg cliConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := tui.NewClient(cfg.Server)
	events := make(chan tui.Event, 16)
	go client.StreamLoop(ctx, events, cfg.Backoff)

	var bell io.Writer
	if cfg.Bell {
		bell = os.Stderr
	}

	model := tui.NewModel(events, client.Apply, bell)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("TUI requires a real terminal")
		}
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
