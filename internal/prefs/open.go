package prefs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/unklstewy/ais-scope/internal/db"
	"github.com/unklstewy/ais-scope/pkg/config"
	"github.com/unklstewy/ais-scope/pkg/ingest"
)

// Open returns the last-file store selected by cfg.Storage together with a
// function releasing it. The postgres driver waits for the database with
// backoff until ctx is cancelled and creates the schema if needed.
func Open(ctx context.Context, cfg *config.Config) (ingest.LastFileStore, func() error, error) {
	switch cfg.Storage.Driver {
	case config.StorageFile, "":
		store, err := NewFileStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Preferences stored in %s", store.Path())
		return store, func() error { return nil }, nil

	case config.StoragePostgres:
		database, err := db.ReconnectWithRetry(ctx, cfg.Database, 5, time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.InitSchema(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		return db.NewPreferenceRepository(database), database.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
