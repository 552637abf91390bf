// ais-load runs a single load against the data service without a UI and
// optionally exports the result as a snapshot for the replay server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/unklstewy/ais-scope/internal/prefs"
	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/config"
	"github.com/unklstewy/ais-scope/pkg/dataset"
	"github.com/unklstewy/ais-scope/pkg/ingest"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	file := flag.String("file", "", "Dataset file (default: last loaded file, then the first listed)")
	start := flag.Int("start", -1, "First row index (default: display.start_index)")
	end := flag.Int("end", -1, "End row index, exclusive (default: display.end_index)")
	startTs := flag.Int64("start-ts", 0, "Window start in epoch millis (time mode)")
	endTs := flag.Int64("end-ts", 0, "Window end in epoch millis (time mode)")
	byTime := flag.Bool("time", false, "Load by time window instead of row index")
	out := flag.String("out", "", "Write a snapshot here (.json or .msgpack)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, release, err := prefs.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open preferences: %v", err)
	}
	defer release()

	client := ais.NewClient(cfg.Service.ClientConfig())
	defer client.Close()

	ctrl := ingest.New(client, store)
	defer ctrl.Close()

	name, err := pickFile(ctx, ctrl, client, *file)
	if err != nil {
		log.Fatalf("No file to load: %v", err)
	}

	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if *byTime {
		bounds, berr := ctrl.ResolveTimeBounds(ctx, name)
		if berr != nil {
			log.Fatalf("Failed to get time bounds: %v", berr)
		}
		if *startTs == 0 && *endTs == 0 {
			*startTs, *endTs = bounds.Start, bounds.End
		}
		_, err = ctrl.StartByTime(name, *startTs, *endTs)
	} else {
		if *start < 0 {
			*start = cfg.Display.StartIndex
		}
		if *end < 0 {
			*end = cfg.Display.EndIndex
		}
		_, err = ctrl.StartByIndex(name, *start, *end)
	}
	if err != nil {
		log.Fatalf("Failed to start load: %v", err)
	}

	final := waitForLoad(ctx, ctrl, events)
	switch final.Kind {
	case ingest.EventFailed:
		log.Fatalf("Load failed: %v", final.Err)
	case ingest.EventCancelled:
		log.Printf("Load cancelled with %d records", final.Records)
		return
	}

	data := ctrl.Dataset()
	fmt.Printf("%s: %d records, %d vessels\n", name, data.Len(), len(data.Vessels()))
	if bounds, ok := data.Bounds(); ok {
		fmt.Printf("time bounds: %d .. %d\n", bounds.Start, bounds.End)
	}

	if *out != "" {
		if err := export(data, name, *out); err != nil {
			log.Fatalf("Failed to export snapshot: %v", err)
		}
		log.Printf("Snapshot written to %s", *out)
	}
}

// pickFile resolves the file to load: the flag, then the remembered file,
// then the first file the service lists.
func pickFile(ctx context.Context, ctrl *ingest.Controller, client *ais.Client, flagFile string) (string, error) {
	if flagFile != "" {
		return flagFile, nil
	}
	if last, err := ctrl.LastFile(ctx); err == nil && last != "" {
		return last, nil
	}
	files, err := client.ListFiles(ctx)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("service lists no files")
	}
	return files[0].Name, nil
}

// waitForLoad prints progress until the load ends. An interrupt cancels it.
func waitForLoad(ctx context.Context, ctrl *ingest.Controller, events <-chan ingest.Event) ingest.Event {
	lastPct := -1
	for {
		select {
		case <-ctx.Done():
			ctrl.Cancel()
			ctx = context.Background()
		case ev := <-events:
			switch {
			case ev.Kind == ingest.EventProgress && ev.Progress != lastPct:
				lastPct = ev.Progress
				fmt.Fprintf(os.Stderr, "\r%3d%% %d records", ev.Progress, ev.Records)
			case ev.Kind.Terminal():
				fmt.Fprintln(os.Stderr)
				return ev
			}
		}
	}
}

func export(data *dataset.Dataset, name, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := data.WriteSnapshot(f, name, dataset.FormatFromPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
