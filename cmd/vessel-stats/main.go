// vessel-stats compares unique vessel counts across dataset files.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client := ais.NewClient(cfg.Service.ClientConfig())
	defer client.Close()

	app := NewApp(client)

	// The terminal belongs to the UI from here on
	log.SetOutput(app.Logger())
	defer log.SetOutput(os.Stderr)

	if err := app.Run(); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("Application error: %v", err)
	}
}
