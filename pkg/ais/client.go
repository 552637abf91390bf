package ais

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/ais-scope/pkg/stream"
)

const (
	// DefaultBaseURL is where the data service listens by default
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout bounds the JSON (non-streaming) requests
	DefaultTimeout = 10 * time.Second

	// DefaultHeaderTimeout bounds the wait for stream response headers.
	// Stream bodies themselves are not time-bounded.
	DefaultHeaderTimeout = 30 * time.Second

	// DefaultCellSize is the heatmap cell size in degrees
	DefaultCellSize = 0.001

	// maxErrorBody limits how much of an error response body is kept
	maxErrorBody = 512
)

// ClientConfig contains configuration for the data service client.
type ClientConfig struct {
	// BaseURL is the service address (default: http://localhost:8000)
	BaseURL string

	// Timeout bounds JSON requests (default: 10s)
	Timeout time.Duration

	// HeaderTimeout bounds the wait for stream response headers (default: 30s)
	HeaderTimeout time.Duration

	// RequestsPerSecond throttles JSON requests; 0 disables throttling.
	// Row streams are never throttled.
	RequestsPerSecond float64

	// Retry configures retries of the JSON endpoints
	Retry RetryConfig

	// Token is sent as a bearer token when set
	Token string
}

// Client talks to the AIS data service over HTTP.
type Client struct {
	baseURL string

	// httpClient serves the small JSON endpoints
	httpClient *http.Client

	// streamClient has no overall timeout so long row streams are not cut off
	streamClient *http.Client

	rateLimiter *rate.Limiter
	retry       RetryConfig
	token       string
}

// NewClient creates a new data service client.
//
// The client includes:
// - Rate limiting of the JSON endpoints (x/time/rate)
// - Retry with backoff of the idempotent JSON endpoints
// - Separate transports for bounded JSON calls and unbounded row streams
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HeaderTimeout == 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		streamClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
				ResponseHeaderTimeout: cfg.HeaderTimeout,
			},
		},
		rateLimiter: limiter,
		retry:       cfg.Retry,
		token:       cfg.Token,
	}
}

// ListFiles returns the dataset files known to the service.
func (c *Client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	return RetryWithBackoff(ctx, c.retry, func() ([]FileInfo, error) {
		var files []FileInfo
		err := c.getJSON(ctx, "files", url.Values{}, &files)
		return files, err
	})
}

// TimeBounds returns the [min, max] timestamp range of file.
func (c *Client) TimeBounds(ctx context.Context, file string) (TimeBounds, error) {
	return RetryWithBackoff(ctx, c.retry, func() (TimeBounds, error) {
		var tb TimeBounds
		err := c.getJSON(ctx, "rows/time_bounds", url.Values{"file": {file}}, &tb)
		return tb, err
	})
}

// Heatmap returns the server-side heatmap of file over [startTs, endTs].
// cellSize is in degrees; 0 selects DefaultCellSize.
func (c *Client) Heatmap(ctx context.Context, file string, startTs, endTs int64, cellSize float64) ([]HeatmapCell, error) {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	q := url.Values{
		"file":      {file},
		"start_ts":  {strconv.FormatInt(startTs, 10)},
		"end_ts":    {strconv.FormatInt(endTs, 10)},
		"cell_size": {strconv.FormatFloat(cellSize, 'f', -1, 64)},
	}
	return RetryWithBackoff(ctx, c.retry, func() ([]HeatmapCell, error) {
		var cells []HeatmapCell
		err := c.getJSON(ctx, "heatmap", q, &cells)
		return cells, err
	})
}

// UniqueVessels returns the unique vessel count of a single file.
func (c *Client) UniqueVessels(ctx context.Context, file string) (VesselCount, error) {
	return RetryWithBackoff(ctx, c.retry, func() (VesselCount, error) {
		var vc VesselCount
		err := c.getJSON(ctx, "unique-vessels", url.Values{"file": {file}}, &vc)
		return vc, err
	})
}

// UniqueVesselsMulti streams unique vessel counts for several files.
// fn is called once per file in server order; returning an error from fn
// stops consumption and is returned as is.
func (c *Client) UniqueVesselsMulti(ctx context.Context, files []string, fn func(VesselCount) error) error {
	const op = "unique-vessels-multi"

	payload, err := json.Marshal(struct {
		Files []string `json:"files"`
	}{Files: files})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(op, nil), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.openStream(req, op)
	if err != nil {
		return err
	}
	defer body.Close()

	dec := stream.NewDecoder()
	for rec, err := range dec.Records(body) {
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		var vc VesselCount
		if err := json.Unmarshal([]byte(rec), &vc); err != nil {
			return newParseError(rec, "", err)
		}
		if err := fn(vc); err != nil {
			return err
		}
	}
	return nil
}

// StreamByIndex opens the row stream for rows [start, end) of file.
func (c *Client) StreamByIndex(ctx context.Context, file string, start, end int) (io.ReadCloser, error) {
	const op = "rows/stream"
	q := url.Values{
		"file":  {file},
		"start": {strconv.Itoa(start)},
		"end":   {strconv.Itoa(end)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(op, q), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.openStream(req, op)
}

// StreamByTime opens the row stream for rows of file with startTs <= t <= endTs.
func (c *Client) StreamByTime(ctx context.Context, file string, startTs, endTs int64) (io.ReadCloser, error) {
	const op = "rows/stream_time"
	q := url.Values{
		"file":     {file},
		"start_ts": {strconv.FormatInt(startTs, 10)},
		"end_ts":   {strconv.FormatInt(endTs, 10)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(op, q), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.openStream(req, op)
}

// Close cleanly shuts down the client's idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
	return nil
}

// openStream sends req and returns the body of a successful response.
func (c *Client) openStream(req *http.Request, op string) (io.ReadCloser, error) {
	c.authorize(req)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(op, resp)
	}
	return resp.Body, nil
}

// getJSON performs a rate-limited GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, op string, q url.Values, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(op, q), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newParseError("", "", fmt.Errorf("%s: failed to parse response: %w", op, err))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) endpoint(op string, q url.Values) string {
	u := c.baseURL + "/" + op
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// statusError converts a non-200 response into a TransportError.
func statusError(op string, resp *http.Response) *TransportError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	te := &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    string(bytes.TrimSpace(body)),
		Headers:    extractRateLimitHeaders(resp.Header),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		te.RetryAfter = parseRetryAfter(resp.Header)
		if te.Message == "" {
			te.Message = "Rate limit exceeded"
		}
	}
	return te
}

// UnmarshalJSON accepts both the {lat, lng, count} object form and the
// [lat, lon, count] triple the service emits.
func (h *HeatmapCell) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var triple []float64
		if err := json.Unmarshal(trimmed, &triple); err != nil {
			return err
		}
		if len(triple) != 3 {
			return fmt.Errorf("heatmap cell: expected 3 values, got %d", len(triple))
		}
		h.Lat, h.Lng, h.Count = triple[0], triple[1], triple[2]
		return nil
	}

	type cell HeatmapCell
	var c cell
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return err
	}
	*h = HeatmapCell(c)
	return nil
}
