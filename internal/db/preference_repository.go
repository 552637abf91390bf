package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastSelectedFileKey is the preference holding the most recently loaded file.
const LastSelectedFileKey = "last_selected_file"

// PreferenceRepository stores key/value preferences in PostgreSQL.
// It implements ingest.LastFileStore.
type PreferenceRepository struct {
	db *DB

	// Retries is the number of retries on connection errors
	Retries int

	// RetryWait is the base delay between retries
	RetryWait time.Duration
}

// NewPreferenceRepository creates a new preference repository.
func NewPreferenceRepository(db *DB) *PreferenceRepository {
	return &PreferenceRepository{
		db:        db,
		Retries:   2,
		RetryWait: time.Second,
	}
}

// Get returns the value of key. ok is false when the key was never set.
func (r *PreferenceRepository) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = WithRetry(func() error {
		err := r.db.QueryRowContext(ctx,
			`SELECT value FROM preferences WHERE key = $1`,
			key,
		).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			value, ok = "", false
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return nil
	}, r.Retries, r.RetryWait)
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, ok, nil
}

// Set stores value under key, replacing any previous value.
func (r *PreferenceRepository) Set(ctx context.Context, key, value string) error {
	err := WithRetry(func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO preferences (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, key, value)
		return err
	}, r.Retries, r.RetryWait)
	if err != nil {
		return fmt.Errorf("failed to store preference %s: %w", key, err)
	}
	return nil
}

// LastFile returns the most recently loaded file, or "".
func (r *PreferenceRepository) LastFile(ctx context.Context) (string, error) {
	file, _, err := r.Get(ctx, LastSelectedFileKey)
	return file, err
}

// SetLastFile records file as the most recently loaded file.
func (r *PreferenceRepository) SetLastFile(ctx context.Context, file string) error {
	return r.Set(ctx, LastSelectedFileKey, file)
}
