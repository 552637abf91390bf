package ais

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TransportError represents a network failure or a non-success HTTP response.
type TransportError struct {
	// Op is the service operation that failed (e.g. "rows/stream")
	Op string

	// StatusCode is the HTTP status, 0 when no response was received
	StatusCode int

	// RetryAfter is set from the Retry-After header on HTTP 429
	RetryAfter time.Duration

	// Headers carries rate limit information when the server sent any
	Headers RateLimitHeaders

	// Message is the (truncated) response body or a short description
	Message string

	// Err is the underlying network error, if any
	Err error
}

// RateLimitHeaders contains rate limit information from response headers.
type RateLimitHeaders struct {
	Limit     int       // X-Rate-Limit-Limit: Maximum requests allowed
	Remaining int       // X-Rate-Limit-Remaining: Requests remaining in current window
	Reset     time.Time // X-Rate-Limit-Reset: When the rate limit resets
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.RetryAfter > 0:
		return fmt.Sprintf("%s: status %d: %s (retry after %v)", e.Op, e.StatusCode, e.Message, e.RetryAfter)
	case e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the server answered with HTTP 429.
func (e *TransportError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransportError checks if an error is (or wraps) a TransportError.
func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRateLimitError checks if an error is a TransportError caused by HTTP 429.
func IsRateLimitError(err error) (*TransportError, bool) {
	if te, ok := IsTransportError(err); ok && te.RateLimited() {
		return te, true
	}
	return nil, false
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the duration to wait, or 0 if header is not present.
// Supports both delay-seconds (integer) and HTTP-date formats.
//
// Examples:
//
//	Retry-After: 30                            -> 30 seconds
//	Retry-After: Wed, 21 Oct 2015 07:28:00 GMT -> duration until that time
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}

// extractRateLimitHeaders reads the X-Rate-Limit-* (or X-RateLimit-*) headers.
// Missing values are reported as -1.
func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	rlh := RateLimitHeaders{
		Limit:     -1,
		Remaining: -1,
	}

	if v, ok := headerInt(headers, "X-Rate-Limit-Limit", "X-RateLimit-Limit"); ok {
		rlh.Limit = int(v)
	}
	if v, ok := headerInt(headers, "X-Rate-Limit-Remaining", "X-RateLimit-Remaining"); ok {
		rlh.Remaining = int(v)
	}
	if v, ok := headerInt(headers, "X-Rate-Limit-Reset", "X-RateLimit-Reset"); ok {
		rlh.Reset = time.Unix(v, 0)
	}

	return rlh
}

// headerInt returns the first of names that is present and parses as an integer.
func headerInt(headers http.Header, names ...string) (int64, bool) {
	for _, name := range names {
		raw := headers.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
