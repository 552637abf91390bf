// ais-scope is the terminal map for AIS position streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/ais-scope/internal/prefs"
	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/config"
	"github.com/unklstewy/ais-scope/pkg/ingest"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	logPath := flag.String("log", "ais-scope.log", "Log file (the terminal is used by the UI)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Everything logged from here on goes to the log file
	logFile, err := tea.LogToFile(*logPath, "ais-scope")
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()

	store, release, err := prefs.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to open preferences: %v", err)
	}
	defer release()

	client := ais.NewClient(cfg.Service.ClientConfig())
	defer client.Close()

	ctrl := ingest.New(client, store)
	defer ctrl.Close()

	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(newModel(cfg, client, ctrl, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
