// Package db stores ais-scope preferences in PostgreSQL.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/unklstewy/ais-scope/pkg/config"
)

//go:embed schema.sql
var schemaSQL string

// pingTimeout bounds the connection check when ctx has no deadline
const pingTimeout = 5 * time.Second

// DB is a pooled preference database.
type DB struct {
	*sql.DB
}

// ConnString builds the lib/pq connection string for cfg.
func ConnString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
}

// Connect opens the pool and checks that the server answers.
// Only the postgres driver is supported; an empty driver means postgres.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open("postgres", ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A preference store needs very few connections
	sqlDB.SetMaxOpenConns(max(cfg.MaxOpenConns, 1))
	sqlDB.SetMaxIdleConns(max(cfg.MaxIdleConns, 0))
	sqlDB.SetConnMaxLifetime(time.Hour)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &DB{DB: sqlDB}, nil
}

// InitSchema creates the preference tables if they are missing.
// The schema is applied in one transaction so a failure leaves nothing behind.
func (db *DB) InitSchema(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return tx.Commit()
}
