package db

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/unklstewy/ais-scope/pkg/config"
)

// ReconnectWithRetry connects to the database with exponential backoff.
// This provides resilience against a database that is still starting up.
//
// Parameters:
//   - ctx: Stops waiting between attempts when cancelled
//   - cfg: Database configuration
//   - maxRetries: Maximum number of connection attempts (0 = infinite)
//   - initialDelay: Initial wait time between retries
//
// Returns: Connected database or error if all retries exhausted
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++

		log.Printf("Database connection attempt %d...", attempt)

		db, err := Connect(ctx, cfg)
		if err == nil {
			log.Println("✓ Database connected")
			return db, nil
		}

		// Check if we've exceeded max retries
		if maxRetries > 0 && attempt >= maxRetries {
			log.Printf("Failed to connect after %d attempts", attempt)
			return nil, err
		}

		log.Printf("Connection failed: %v (retry in %v)", err, delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		// Exponential backoff with cap at 60 seconds
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// connErrors are substrings of errors caused by a lost connection.
var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"bad connection",
	"eof",
	"timeout",
}

// isConnError reports whether err looks like a lost connection rather than a
// query problem.
func isConnError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry executes a database operation with automatic retry on connection failures.
// Query errors are returned immediately.
//
// Parameters:
//   - operation: Function to execute that may fail due to connection issues
//   - maxRetries: Maximum number of retry attempts
//   - wait: Base delay; attempt n waits n*wait
//
// Returns: Error from operation or nil on success
func WithRetry(operation func() error, maxRetries int, wait time.Duration) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnError(err) {
			// Not a connection error, don't retry
			return err
		}

		if attempt < maxRetries {
			waitTime := time.Duration(attempt+1) * wait
			log.Printf("Database operation failed (attempt %d/%d): %v (retry in %v)",
				attempt+1, maxRetries+1, err, waitTime)
			time.Sleep(waitTime)
		}
	}

	return lastErr
}
