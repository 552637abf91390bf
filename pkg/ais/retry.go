package ais

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
// Only the idempotent JSON endpoints are retried; row streams never are.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// InitialDelay is the delay before the first retry (default: 500ms)
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff delay (default: 10 seconds)
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0 for exponential)
	Multiplier float64

	// RespectRetryAfter uses Retry-After header if available (default: true)
	RespectRetryAfter bool
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		Multiplier:        2.0,
		RespectRetryAfter: true,
	}
}

// NoRetry disables retries.
func NoRetry() RetryConfig {
	return RetryConfig{}
}

// Retryable reports whether err is worth another attempt: network failures,
// rate limiting and 5xx responses are; everything else is not.
func Retryable(err error) bool {
	te, ok := IsTransportError(err)
	if !ok {
		return false
	}
	return te.StatusCode == 0 ||
		te.StatusCode == http.StatusTooManyRequests ||
		te.StatusCode >= http.StatusInternalServerError
}

// RetryWithBackoff executes fn with exponential backoff and returns its result.
// Rate limit errors (HTTP 429) respect the Retry-After header.
// Non-retryable errors are returned immediately.
//
// Example usage:
//
//	files, err := RetryWithBackoff(ctx, DefaultRetryConfig(), func() ([]FileInfo, error) {
//	    return c.listFilesOnce(ctx)
//	})
func RetryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	var delay time.Duration

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		result = res
		lastErr = err

		if !Retryable(err) {
			return result, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		// delay = min(InitialDelay * Multiplier^attempt, MaxDelay)
		delay = time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt)))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}

		if te, ok := IsRateLimitError(err); ok {
			if cfg.RespectRetryAfter && te.RetryAfter > 0 {
				delay = te.RetryAfter
			}
			if te.Headers.Remaining >= 0 {
				log.Printf("Rate limit hit: %d/%d requests remaining, reset at %v",
					te.Headers.Remaining, te.Headers.Limit, te.Headers.Reset)
			}
		}
	}

	if cfg.MaxRetries == 0 {
		return result, lastErr
	}
	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
