package replay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/ais-scope/internal/auth"
	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/dataset"
	"github.com/unklstewy/ais-scope/pkg/ingest"
	"github.com/unklstewy/ais-scope/pkg/stream"
)

func f64(v float64) *float64 { return &v }

// testRecords are three reports from two vessels, out of time order.
var testRecords = []ais.PositionRecord{
	{T: 1000, VesselID: "a", Lat: 37.94, Lon: 23.64, Speed: f64(0)},
	{T: 3000, VesselID: "b", Lat: 37.95, Lon: 23.65, Speed: f64(12), Heading: f64(90)},
	{T: 2000, VesselID: "a", Lat: 37.94, Lon: 23.64, Speed: f64(1.5)},
}

// writeSnapshot stores records as a snapshot called name in dir.
func writeSnapshot(t *testing.T, dir, name string, records []ais.PositionRecord) {
	t.Helper()
	d := dataset.New()
	for _, r := range records {
		require.NoError(t, d.Append(r))
	}
	d.Finalize()

	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, d.WriteSnapshot(f, name, dataset.FormatFromPath(name)))
}

// newTestServer serves a catalog holding jan.json and feb.msgpack.
func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Catalog) {
	t.Helper()
	dir := t.TempDir()
	writeSnapshot(t, dir, "jan.json", testRecords)
	writeSnapshot(t, dir, "feb.msgpack", testRecords[:1])
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	catalog := NewCatalog(dir)
	ts := httptest.NewServer(NewServer(catalog, opts))
	t.Cleanup(ts.Close)
	return ts, catalog
}

func TestCatalog(t *testing.T) {
	_, catalog := newTestServer(t, Options{})

	files, err := catalog.Files()
	require.NoError(t, err)
	assert.Equal(t, []ais.FileInfo{{Name: "feb.msgpack"}, {Name: "jan.json"}}, files)

	d, err := catalog.Open("jan.json")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.True(t, d.Frozen())

	again, err := catalog.Open("jan.json")
	require.NoError(t, err)
	assert.Same(t, d, again, "decoded snapshots should be cached")

	for _, name := range []string{"", "missing.json", "../jan.json", "notes.txt"} {
		_, err := catalog.Open(name)
		assert.ErrorIs(t, err, ErrUnknownFile, "Open(%q)", name)
	}
}

func TestHeatmap(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, Heatmap(nil, 0.001))
	})

	t.Run("Normalised counts", func(t *testing.T) {
		cells := Heatmap(testRecords, 0.001)
		require.Len(t, cells, 2)

		// Two reports share the south-west cell
		assert.InDelta(t, 37.9405, cells[0].Lat, 1e-9)
		assert.InDelta(t, 23.6405, cells[0].Lng, 1e-9)
		assert.Equal(t, 1.0, cells[0].Count)
		assert.Equal(t, 0.5, cells[1].Count)
	})

	t.Run("Single point", func(t *testing.T) {
		cells := Heatmap(testRecords[:1], 0.01)
		require.Len(t, cells, 1)
		assert.Equal(t, 1.0, cells[0].Count)
	})
}

func TestProgress(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{1, 4, 25},
		{4, 4, 100},
		{1, 3, 33},
		{1, 0, 100},
		{5, 4, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Progress(tt.done, tt.total), "Progress(%d, %d)", tt.done, tt.total)
	}
}

// readMessages decodes a row stream body with the production decoder.
func readMessages(t *testing.T, body io.Reader) []ais.StreamMessage {
	t.Helper()
	var msgs []ais.StreamMessage
	for rec, err := range stream.NewDecoder().Records(body) {
		require.NoError(t, err)
		msg, err := ais.ParseMessage(rec)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestServerStreams(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	client := ais.NewClient(ais.ClientConfig{BaseURL: ts.URL})
	defer client.Close()
	ctx := context.Background()

	t.Run("By index", func(t *testing.T) {
		body, err := client.StreamByIndex(ctx, "jan.json", 1, 3)
		require.NoError(t, err)
		defer body.Close()

		msgs := readMessages(t, body)
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(3000), msgs[0].Row.T)
		assert.Equal(t, 50, msgs[0].Progress)
		assert.Equal(t, 100, msgs[1].Progress)
	})

	t.Run("By index past the end", func(t *testing.T) {
		body, err := client.StreamByIndex(ctx, "jan.json", 2, 10)
		require.NoError(t, err)
		defer body.Close()

		msgs := readMessages(t, body)
		require.Len(t, msgs, 1)
		assert.Equal(t, 12, msgs[0].Progress)
	})

	t.Run("By time", func(t *testing.T) {
		body, err := client.StreamByTime(ctx, "jan.json", 1500, 3000)
		require.NoError(t, err)
		defer body.Close()

		msgs := readMessages(t, body)
		require.Len(t, msgs, 2)
		assert.Equal(t, "b", msgs[0].Row.VesselID)
		assert.Equal(t, int64(2000), msgs[1].Row.T)
		assert.Equal(t, 100, msgs[1].Progress)
	})

	t.Run("Unknown file", func(t *testing.T) {
		_, err := client.StreamByIndex(ctx, "missing.json", 0, 10)
		te, ok := ais.IsTransportError(err)
		require.True(t, ok, "expected TransportError, got %v", err)
		assert.Equal(t, http.StatusNotFound, te.StatusCode)
	})

	t.Run("Missing time window", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/rows/stream_time?file=jan.json")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServerQueries(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	client := ais.NewClient(ais.ClientConfig{BaseURL: ts.URL})
	defer client.Close()
	ctx := context.Background()

	t.Run("Files", func(t *testing.T) {
		files, err := client.ListFiles(ctx)
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})

	t.Run("Time bounds", func(t *testing.T) {
		tb, err := client.TimeBounds(ctx, "jan.json")
		require.NoError(t, err)
		assert.Equal(t, ais.TimeBounds{Min: 1000, Max: 3000}, tb)
	})

	t.Run("Heatmap", func(t *testing.T) {
		cells, err := client.Heatmap(ctx, "jan.json", 0, 2500, 0.001)
		require.NoError(t, err)
		require.Len(t, cells, 1)
		assert.Equal(t, 1.0, cells[0].Count)
	})

	t.Run("Invalid cell size", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/heatmap?file=jan.json&cell_size=-1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Unique vessels", func(t *testing.T) {
		vc, err := client.UniqueVessels(ctx, "jan.json")
		require.NoError(t, err)
		assert.Equal(t, 2, vc.UniqueVessels)
	})

	t.Run("Unique vessels multi", func(t *testing.T) {
		var got []ais.VesselCount
		err := client.UniqueVesselsMulti(ctx, []string{"jan.json", "feb.msgpack"}, func(vc ais.VesselCount) error {
			got = append(got, vc)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []ais.VesselCount{
			{File: "jan.json", UniqueVessels: 2, Progress: 50},
			{File: "feb.msgpack", UniqueVessels: 1, Progress: 100},
		}, got)
	})

	t.Run("Unique vessels multi unknown file", func(t *testing.T) {
		err := client.UniqueVesselsMulti(ctx, []string{"jan.json", "nope.json"}, func(ais.VesselCount) error {
			return errors.New("should not be called")
		})
		te, ok := ais.IsTransportError(err)
		require.True(t, ok, "expected TransportError, got %v", err)
		assert.Equal(t, http.StatusNotFound, te.StatusCode)
	})
}

func TestServerAuth(t *testing.T) {
	authSvc := auth.NewService(auth.Config{Secret: "replay-secret"})
	ts, _ := newTestServer(t, Options{Auth: authSvc})
	ctx := context.Background()

	t.Run("Health is public", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Missing token", func(t *testing.T) {
		client := ais.NewClient(ais.ClientConfig{BaseURL: ts.URL})
		_, err := client.ListFiles(ctx)
		te, ok := ais.IsTransportError(err)
		require.True(t, ok, "expected TransportError, got %v", err)
		assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	})

	t.Run("Unknown role", func(t *testing.T) {
		token, err := authSvc.GenerateToken("guest", "guest")
		require.NoError(t, err)
		client := ais.NewClient(ais.ClientConfig{BaseURL: ts.URL, Token: token})
		_, err = client.ListFiles(ctx)
		te, ok := ais.IsTransportError(err)
		require.True(t, ok, "expected TransportError, got %v", err)
		assert.Equal(t, http.StatusForbidden, te.StatusCode)
	})

	t.Run("Reader token", func(t *testing.T) {
		token, err := authSvc.GenerateToken("analyst", auth.RoleReader)
		require.NoError(t, err)
		client := ais.NewClient(ais.ClientConfig{BaseURL: ts.URL, Token: token})
		files, err := client.ListFiles(ctx)
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})
}

func TestServerRowDelay(t *testing.T) {
	ts, _ := newTestServer(t, Options{RowDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/rows/stream?file=jan.json&start=0&end=3", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The first row is held back by the delay until the client gives up
	_, err = io.ReadAll(resp.Body)
	require.Error(t, err)
}

// TestReplayLoad drives a full controller load against the replay server.
func TestReplayLoad(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	client := ais.NewClient(ais.ClientConfig{BaseURL: ts.URL})
	defer client.Close()

	ctrl := ingest.New(client, nil)
	defer ctrl.Close()
	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	started, err := ctrl.StartByIndex("jan.json", 0, 3)
	require.NoError(t, err)
	require.True(t, started)

	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			require.NotEqual(t, ingest.EventFailed, ev.Kind, "load failed: %v", ev.Err)
			done = ev.Kind == ingest.EventCompleted
		case <-deadline:
			t.Fatal("timed out waiting for the load to complete")
		}
	}

	state := ctrl.Snapshot()
	assert.Equal(t, 3, state.Records)
	assert.Equal(t, 100, state.Progress)
	require.NotNil(t, state.Window)
	assert.Equal(t, dataset.TimeWindow{Start: 1000, End: 3000}, *state.Window)

	stopped := ctrl.Visible(dataset.FilterOptions{OnlyStopped: true})
	require.Len(t, stopped, 1)
	assert.Equal(t, "a", stopped[0].VesselID)

	raw, err := json.Marshal(stopped[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"speed":0`))
}
