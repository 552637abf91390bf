package ais

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string) *Client {
	return NewClient(ClientConfig{
		BaseURL: url,
		Timeout: 5 * time.Second,
		Retry: RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	})
}

// TestClientListFiles tests the file listing endpoint.
func TestClientListFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Errorf("Expected path /files, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"unipi_ais_dynamic_jan2019.parquet"},{"name":"unipi_ais_dynamic_feb2019.parquet"}]`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	defer client.Close()

	files, err := client.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles() error: %v", err)
	}
	if len(files) != 2 || files[0].Name != "unipi_ais_dynamic_jan2019.parquet" {
		t.Errorf("Unexpected files: %+v", files)
	}
}

// TestClientTimeBounds tests the time bounds endpoint and retry of 5xx responses.
func TestClientTimeBounds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		if got := r.URL.Query().Get("file"); got != "a b.parquet" {
			t.Errorf("Expected file query 'a b.parquet', got %q", got)
		}
		w.Write([]byte(`{"min":1000,"max":2000}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	tb, err := client.TimeBounds(context.Background(), "a b.parquet")
	if err != nil {
		t.Fatalf("TimeBounds() error: %v", err)
	}
	if tb.Min != 1000 || tb.Max != 2000 {
		t.Errorf("Unexpected bounds: %+v", tb)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls (1 retry), got %d", calls.Load())
	}
}

// TestClientErrors tests conversion of failed responses into TransportError.
func TestClientErrors(t *testing.T) {
	t.Run("Rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-Rate-Limit-Limit", "100")
			w.Header().Set("X-Rate-Limit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, Retry: NoRetry()})
		_, err := client.ListFiles(context.Background())

		te, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("Expected rate limit error, got %v", err)
		}
		if te.RetryAfter != time.Second {
			t.Errorf("Expected Retry-After 1s, got %v", te.RetryAfter)
		}
		if te.Headers.Limit != 100 || te.Headers.Remaining != 0 {
			t.Errorf("Unexpected rate limit headers: %+v", te.Headers)
		}
		if te.Message != "Rate limit exceeded" {
			t.Errorf("Expected default message, got %q", te.Message)
		}
	})

	t.Run("Not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"detail":"file not found"}`, http.StatusNotFound)
		}))
		defer server.Close()

		client := testClient(server.URL)
		_, err := client.StreamByIndex(context.Background(), "missing.parquet", 0, 10)

		te, ok := IsTransportError(err)
		if !ok {
			t.Fatalf("Expected TransportError, got %v", err)
		}
		if te.StatusCode != http.StatusNotFound || te.Op != "rows/stream" {
			t.Errorf("Unexpected error: %+v", te)
		}
		if !strings.Contains(te.Message, "file not found") {
			t.Errorf("Expected body in message, got %q", te.Message)
		}
	})

	t.Run("Connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		client := NewClient(ClientConfig{BaseURL: url, Retry: NoRetry()})
		_, err := client.ListFiles(context.Background())

		te, ok := IsTransportError(err)
		if !ok {
			t.Fatalf("Expected TransportError, got %v", err)
		}
		if te.StatusCode != 0 || te.Err == nil {
			t.Errorf("Expected network error without status, got %+v", te)
		}
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"min":`))
		}))
		defer server.Close()

		client := testClient(server.URL)
		_, err := client.TimeBounds(context.Background(), "a.parquet")
		if _, ok := IsParseError(err); !ok {
			t.Errorf("Expected ParseError, got %v", err)
		}
	})
}

// TestClientStreams tests the row stream endpoints.
func TestClientStreams(t *testing.T) {
	body := `{"progress":100,"row":{"t":1,"vessel_id":"A","lon":0,"lat":0}}` + "\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/rows/stream":
			if q.Get("start") != "5" || q.Get("end") != "15" {
				t.Errorf("Unexpected index query: %s", r.URL.RawQuery)
			}
		case "/rows/stream_time":
			if q.Get("start_ts") != "1000" || q.Get("end_ts") != "2000" {
				t.Errorf("Unexpected time query: %s", r.URL.RawQuery)
			}
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := testClient(server.URL)

	t.Run("By index", func(t *testing.T) {
		rc, err := client.StreamByIndex(context.Background(), "a.parquet", 5, 15)
		if err != nil {
			t.Fatalf("StreamByIndex() error: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != body {
			t.Errorf("Expected body %q, got %q", body, got)
		}
	})

	t.Run("By time", func(t *testing.T) {
		rc, err := client.StreamByTime(context.Background(), "a.parquet", 1000, 2000)
		if err != nil {
			t.Fatalf("StreamByTime() error: %v", err)
		}
		rc.Close()
	})
}

// TestClientHeatmap tests both heatmap cell encodings.
func TestClientHeatmap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cell_size"); got != "0.001" {
			t.Errorf("Expected default cell size 0.001, got %q", got)
		}
		w.Write([]byte(`[[37.94,23.64,12],{"lat":37.95,"lng":23.65,"count":3}]`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	cells, err := client.Heatmap(context.Background(), "a.parquet", 0, 10, 0)
	if err != nil {
		t.Fatalf("Heatmap() error: %v", err)
	}

	want := []HeatmapCell{{Lat: 37.94, Lng: 23.64, Count: 12}, {Lat: 37.95, Lng: 23.65, Count: 3}}
	if len(cells) != len(want) {
		t.Fatalf("Expected %d cells, got %d", len(want), len(cells))
	}
	for i := range want {
		if cells[i] != want[i] {
			t.Errorf("Cell %d: expected %+v, got %+v", i, want[i], cells[i])
		}
	}

	t.Run("Bad triple", func(t *testing.T) {
		var c HeatmapCell
		if err := json.Unmarshal([]byte(`[1,2]`), &c); err == nil {
			t.Error("Expected error for a two-element cell")
		}
	})
}

// TestClientUniqueVesselsMulti tests the streamed multi-file count.
func TestClientUniqueVesselsMulti(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		var req struct {
			Files []string `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		flusher := w.(http.Flusher)
		for i, f := range req.Files {
			json.NewEncoder(w).Encode(VesselCount{File: f, UniqueVessels: 10 * (i + 1), Progress: 100 * (i + 1) / len(req.Files)})
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := testClient(server.URL)

	t.Run("All files", func(t *testing.T) {
		var got []VesselCount
		err := client.UniqueVesselsMulti(context.Background(), []string{"a", "b"}, func(vc VesselCount) error {
			got = append(got, vc)
			return nil
		})
		if err != nil {
			t.Fatalf("UniqueVesselsMulti() error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 counts, got %d", len(got))
		}
		if got[1].File != "b" || got[1].UniqueVessels != 20 || got[1].Progress != 100 {
			t.Errorf("Unexpected second count: %+v", got[1])
		}
	})

	t.Run("Callback error stops consumption", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := client.UniqueVesselsMulti(context.Background(), []string{"a", "b", "c"}, func(vc VesselCount) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Errorf("Expected callback error, got %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 callback, got %d", calls)
		}
	})
}

// TestClientToken tests that the bearer token is sent on every request.
func TestClientToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Token: "secret-token", Retry: NoRetry()})
	if _, err := client.ListFiles(context.Background()); err != nil {
		t.Errorf("ListFiles() with token error: %v", err)
	}
	rc, err := client.StreamByIndex(context.Background(), "a", 0, 1)
	if err != nil {
		t.Fatalf("StreamByIndex() with token error: %v", err)
	}
	rc.Close()
}
