package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/dataset"
)

const (
	recordA = `{"progress":50,"row":{"t":1000,"vessel_id":"A","lon":23.6,"lat":37.9,"speed":0}}` + "\n"
	recordB = `{"progress":100,"row":{"t":2000,"vessel_id":"B","lon":23.7,"lat":38.0,"speed":12}}` + "\n"
)

// chunkReader returns one predefined chunk per Read call.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func chunked(chunks ...string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(&chunkReader{chunks: append([]string(nil), chunks...)}), nil
	}
}

// fakeService serves every stream request from open.
type fakeService struct {
	mu         sync.Mutex
	open       func() (io.ReadCloser, error)
	bounds     ais.TimeBounds
	indexCalls int
	timeCalls  int
}

func (f *fakeService) ListFiles(ctx context.Context) ([]ais.FileInfo, error) {
	return []ais.FileInfo{{Name: "a.parquet"}}, nil
}

func (f *fakeService) StreamByIndex(ctx context.Context, file string, start, end int) (io.ReadCloser, error) {
	f.mu.Lock()
	f.indexCalls++
	open := f.open
	f.mu.Unlock()
	return open()
}

func (f *fakeService) StreamByTime(ctx context.Context, file string, startTs, endTs int64) (io.ReadCloser, error) {
	f.mu.Lock()
	f.timeCalls++
	open := f.open
	f.mu.Unlock()
	return open()
}

func (f *fakeService) TimeBounds(ctx context.Context, file string) (ais.TimeBounds, error) {
	return f.bounds, nil
}

func (f *fakeService) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexCalls, f.timeCalls
}

type memStore struct {
	mu   sync.Mutex
	file string
	sets int
}

func (m *memStore) LastFile(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file, nil
}

func (m *memStore) SetLastFile(ctx context.Context, file string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.file = file
	m.sets++
	return nil
}

// waitFor reads events until one of kind arrives or the timeout expires.
func waitFor(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// TestControllerIndexLoad tests a complete index-range load.
func TestControllerIndexLoad(t *testing.T) {
	// Split inside a record and right after a delimiter
	svc := &fakeService{open: chunked(recordA[:30], recordA[30:], recordB[:len(recordB)-1], "\n")}
	store := &memStore{}
	c := New(svc, store)
	defer c.Close()

	started, err := c.StartByIndex("a.parquet", 0, 100)
	if err != nil || !started {
		t.Fatalf("StartByIndex() = %v, %v; want true, nil", started, err)
	}
	c.Wait()

	s := c.Snapshot()
	if s.Loading {
		t.Error("Expected controller to be idle after completion")
	}
	if s.Records != 2 {
		t.Errorf("Expected 2 records, got %d", s.Records)
	}
	if s.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", s.Progress)
	}
	if s.Err != nil {
		t.Errorf("Unexpected error: %v", s.Err)
	}
	if s.Window == nil || *s.Window != (dataset.TimeWindow{Start: 1000, End: 2000}) {
		t.Errorf("Expected window [1000, 2000], got %v", s.Window)
	}
	if s.Mode != ModeIndex || s.File != "a.parquet" || s.LoadID == "" {
		t.Errorf("Unexpected load identity: %+v", s)
	}

	t.Run("Dataset is frozen", func(t *testing.T) {
		if !c.Dataset().Frozen() {
			t.Error("Expected dataset to be frozen after completion")
		}
	})

	t.Run("Only stopped records visible", func(t *testing.T) {
		visible := c.Visible(dataset.FilterOptions{OnlyStopped: true})
		if len(visible) != 1 || visible[0].VesselID != "A" {
			t.Errorf("Expected only vessel A, got %+v", visible)
		}
	})

	t.Run("Last file persisted", func(t *testing.T) {
		last, err := c.LastFile(context.Background())
		if err != nil {
			t.Fatalf("LastFile() error: %v", err)
		}
		if last != "a.parquet" {
			t.Errorf("Expected last file a.parquet, got %q", last)
		}
	})
}

// TestControllerDropsSecondStart tests that a start while loading has no effect.
func TestControllerDropsSecondStart(t *testing.T) {
	pr, pw := io.Pipe()
	svc := &fakeService{open: func() (io.ReadCloser, error) { return pr, nil }}
	c := New(svc, &memStore{})
	defer c.Close()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if ok, err := c.StartByIndex("first.parquet", 0, 10); !ok || err != nil {
		t.Fatalf("first StartByIndex() = %v, %v", ok, err)
	}
	if _, err := io.WriteString(pw, recordA); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, events, EventProgress)

	ok, err := c.StartByIndex("second.parquet", 0, 10)
	if err != nil {
		t.Fatalf("second StartByIndex() error: %v", err)
	}
	if ok {
		t.Error("Expected second start to be dropped")
	}

	if _, err := io.WriteString(pw, recordB); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	pw.Close()
	waitFor(t, events, EventCompleted)
	c.Wait()

	s := c.Snapshot()
	if s.File != "first.parquet" {
		t.Errorf("Expected in-flight file to be kept, got %q", s.File)
	}
	if s.Records != 2 {
		t.Errorf("Expected 2 records from the first load, got %d", s.Records)
	}
	if index, _ := svc.calls(); index != 1 {
		t.Errorf("Expected 1 stream request, got %d", index)
	}
}

// TestControllerCancel tests that cancel stops dataset growth.
func TestControllerCancel(t *testing.T) {
	pr, pw := io.Pipe()
	store := &memStore{}
	svc := &fakeService{open: func() (io.ReadCloser, error) { return pr, nil }}
	c := New(svc, store)
	defer c.Close()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if ok, err := c.StartByIndex("a.parquet", 0, 10); !ok || err != nil {
		t.Fatalf("StartByIndex() = %v, %v", ok, err)
	}
	if _, err := io.WriteString(pw, recordA); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, events, EventProgress)

	c.Cancel()
	waitFor(t, events, EventCancelled)

	s := c.Snapshot()
	if s.Loading {
		t.Error("Expected controller to be idle right after Cancel")
	}
	if s.Records != 1 {
		t.Errorf("Expected 1 record at cancel, got %d", s.Records)
	}

	// Data arriving after cancel must not be appended
	go func() {
		io.WriteString(pw, recordB)
		pw.Close()
	}()
	c.Wait()

	s = c.Snapshot()
	if s.Records != 1 {
		t.Errorf("Expected dataset to stay at 1 record, got %d", s.Records)
	}
	if s.Err != nil {
		t.Errorf("Cancel must not surface as an error, got %v", s.Err)
	}
	if store.file != "" {
		t.Errorf("Cancelled load must not be persisted, got %q", store.file)
	}

	t.Run("No terminal event after cancel", func(t *testing.T) {
		for {
			select {
			case ev := <-events:
				if ev.Kind == EventCompleted || ev.Kind == EventFailed {
					t.Errorf("Unexpected %s event after cancel", ev.Kind)
				}
			default:
				return
			}
		}
	})

	t.Run("Cancel when idle is a no-op", func(t *testing.T) {
		c.Cancel()
		if c.Snapshot().Loading {
			t.Error("Expected controller to stay idle")
		}
	})
}

// returnsWithin fails the test if fn does not return within two seconds.
func returnsWithin(t *testing.T, name string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s still blocked after 2s", name)
	}
}

// drain returns every queued event without waiting.
func drain(events <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// TestControllerSlowSubscriber tests that a subscriber that never reads
// cannot block the caller of Cancel, SetWindow or ResetWindow.
func TestControllerSlowSubscriber(t *testing.T) {
	const rows = 100

	pr, pw := io.Pipe()
	c := New(&fakeService{open: func() (io.ReadCloser, error) { return pr, nil }}, nil)
	defer c.Close()
	defer pw.Close()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if ok, err := c.StartByIndex("a.parquet", 0, rows); !ok || err != nil {
		t.Fatalf("StartByIndex() = %v, %v", ok, err)
	}
	go func() {
		for i := 0; i < rows; i++ {
			rec := fmt.Sprintf(`{"progress":%d,"row":{"t":%d,"vessel_id":"A","lon":23.6,"lat":37.9}}`+"\n", i, 1000+i)
			if _, err := io.WriteString(pw, rec); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for c.Snapshot().Records < rows {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d records, got %d", rows, c.Snapshot().Records)
		}
		time.Sleep(time.Millisecond)
	}
	if n := len(events); n != subscriberBuffer {
		t.Fatalf("Expected a full buffer of %d events, got %d", subscriberBuffer, n)
	}

	returnsWithin(t, "Cancel", c.Cancel)

	queued := drain(events)
	if len(queued) == 0 || queued[len(queued)-1].Kind != EventCancelled {
		t.Fatalf("Expected the cancel event to be queued last")
	}
	if c.Snapshot().Loading {
		t.Error("Expected controller to be idle after Cancel")
	}

	// Refill the buffer, then change the window
	for i := 0; i < subscriberBuffer; i++ {
		c.publish(Event{Kind: EventProgress})
	}
	returnsWithin(t, "SetWindow", func() {
		if _, err := c.SetWindow(1010, 1050); err != nil {
			t.Errorf("SetWindow() error: %v", err)
		}
	})
	returnsWithin(t, "ResetWindow", c.ResetWindow)

	queued = drain(events)
	if len(queued) != subscriberBuffer {
		t.Errorf("Expected %d queued events, got %d", subscriberBuffer, len(queued))
	}
	if last := queued[len(queued)-1]; last.Kind != EventWindowChanged {
		t.Errorf("Expected window change queued last, got %s", last.Kind)
	}
	if w := c.Snapshot().Window; w == nil || w.Start != 1000 || w.End != 1000+rows-1 {
		t.Errorf("Expected reset window [1000, %d], got %v", 1000+rows-1, w)
	}
}

// TestControllerFailures tests that errors end the load and keep appended rows.
func TestControllerFailures(t *testing.T) {
	t.Run("Malformed record", func(t *testing.T) {
		bad := `{"progress":60,"row":{"t":"late","vessel_id":"C","lon":23.6,"lat":37.9}}` + "\n"
		store := &memStore{}
		c := New(&fakeService{open: chunked(recordA, bad, recordB)}, store)
		defer c.Close()

		events, unsubscribe := c.Subscribe()
		defer unsubscribe()

		c.StartByIndex("a.parquet", 0, 10)
		ev := waitFor(t, events, EventFailed)
		c.Wait()

		if _, ok := ais.IsParseError(ev.Err); !ok {
			t.Errorf("Expected ParseError, got %v", ev.Err)
		}
		s := c.Snapshot()
		if s.Loading {
			t.Error("Expected controller to be idle after failure")
		}
		if s.Records != 1 {
			t.Errorf("Expected rows before the failure to stay, got %d", s.Records)
		}
		if _, ok := ais.IsParseError(s.Err); !ok {
			t.Errorf("Expected Snapshot().Err to be a ParseError, got %v", s.Err)
		}
		if store.sets != 0 {
			t.Error("Failed load must not be persisted")
		}
	})

	t.Run("Service error", func(t *testing.T) {
		svc := &fakeService{open: func() (io.ReadCloser, error) {
			return nil, &ais.TransportError{Op: "rows/stream", StatusCode: 500, Message: "boom"}
		}}
		c := New(svc, nil)
		defer c.Close()

		c.StartByIndex("a.parquet", 0, 10)
		c.Wait()

		s := c.Snapshot()
		te, ok := ais.IsTransportError(s.Err)
		if !ok {
			t.Fatalf("Expected TransportError, got %v", s.Err)
		}
		if te.StatusCode != 500 {
			t.Errorf("Expected status 500, got %d", te.StatusCode)
		}
		if s.Records != 0 {
			t.Errorf("Expected no records, got %d", s.Records)
		}
	})

	t.Run("Interrupted stream", func(t *testing.T) {
		svc := &fakeService{open: func() (io.ReadCloser, error) {
			r := io.MultiReader(strings.NewReader(recordA), &failingReader{})
			return io.NopCloser(r), nil
		}}
		c := New(svc, nil)
		defer c.Close()

		c.StartByIndex("a.parquet", 0, 10)
		c.Wait()

		s := c.Snapshot()
		if _, ok := ais.IsTransportError(s.Err); !ok {
			t.Errorf("Expected TransportError, got %v", s.Err)
		}
		if s.Records != 1 {
			t.Errorf("Expected 1 record before the interruption, got %d", s.Records)
		}
	})
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

// TestControllerStartByTime tests time-range loads.
func TestControllerStartByTime(t *testing.T) {
	store := &memStore{}
	svc := &fakeService{
		open:   chunked(recordA, recordB),
		bounds: ais.TimeBounds{Min: 1000, Max: 5000},
	}
	c := New(svc, store)
	defer c.Close()

	t.Run("Requires resolved bounds", func(t *testing.T) {
		ok, err := c.StartByTime("a.parquet", 1000, 2000)
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
		if ok {
			t.Error("Expected start to be rejected")
		}
		if _, timeCalls := svc.calls(); timeCalls != 0 {
			t.Errorf("Expected no request before bounds are known, got %d", timeCalls)
		}
	})

	t.Run("Loads after bounds are resolved", func(t *testing.T) {
		w, err := c.ResolveTimeBounds(context.Background(), "a.parquet")
		if err != nil {
			t.Fatalf("ResolveTimeBounds() error: %v", err)
		}
		if w != (dataset.TimeWindow{Start: 1000, End: 5000}) {
			t.Errorf("Unexpected bounds %+v", w)
		}

		ok, err := c.StartByTime("a.parquet", w.Start, w.End)
		if err != nil || !ok {
			t.Fatalf("StartByTime() = %v, %v", ok, err)
		}
		c.Wait()

		s := c.Snapshot()
		if s.Mode != ModeTime || s.Records != 2 {
			t.Errorf("Unexpected state after time load: %+v", s)
		}
	})

	t.Run("Time loads are not persisted", func(t *testing.T) {
		if store.sets != 0 {
			t.Errorf("Expected no persisted file, got %q", store.file)
		}
	})
}

// TestControllerProgress tests last-write-wins progress handling.
func TestControllerProgress(t *testing.T) {
	high := `{"progress":80,"row":{"t":1,"vessel_id":"A","lon":0,"lat":0}}` + "\n"
	low := `{"progress":40,"row":{"t":2,"vessel_id":"A","lon":0,"lat":0}}` + "\n"
	c := New(&fakeService{open: chunked(high, low)}, nil)
	defer c.Close()

	c.StartByIndex("a.parquet", 0, 2)
	c.Wait()

	if got := c.Snapshot().Progress; got != 40 {
		t.Errorf("Expected regressed progress 40 to be kept, got %d", got)
	}
}

// TestControllerStrictFraming tests that an unterminated tail is never appended.
func TestControllerStrictFraming(t *testing.T) {
	c := New(&fakeService{open: chunked(recordA, strings.TrimSuffix(recordB, "\n"))}, nil)
	defer c.Close()

	c.StartByIndex("a.parquet", 0, 2)
	c.Wait()

	s := c.Snapshot()
	if s.Records != 1 {
		t.Errorf("Expected 1 record, got %d", s.Records)
	}
	if s.Err != nil {
		t.Errorf("Unexpected error: %v", s.Err)
	}
}

// TestControllerWindow tests user adjustment of the view window.
func TestControllerWindow(t *testing.T) {
	c := New(&fakeService{open: chunked(recordA, recordB)}, nil)
	defer c.Close()

	t.Run("No records yet", func(t *testing.T) {
		if _, err := c.SetWindow(0, 10); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
	})

	c.StartByIndex("a.parquet", 0, 2)
	c.Wait()

	tests := []struct {
		name       string
		start, end int64
		want       dataset.TimeWindow
	}{
		{"Inside bounds", 1200, 1800, dataset.TimeWindow{Start: 1200, End: 1800}},
		{"Clamped", 500, 9000, dataset.TimeWindow{Start: 1000, End: 2000}},
		{"Reversed", 1800, 1200, dataset.TimeWindow{Start: 1200, End: 1800}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.SetWindow(tt.start, tt.end)
			if err != nil {
				t.Fatalf("SetWindow() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SetWindow(%d, %d) = %+v, want %+v", tt.start, tt.end, got, tt.want)
			}
		})
	}

	t.Run("Window filters visible records", func(t *testing.T) {
		c.SetWindow(1500, 2000)
		visible := c.Visible(dataset.FilterOptions{})
		if len(visible) != 1 || visible[0].VesselID != "B" {
			t.Errorf("Expected only vessel B, got %+v", visible)
		}
	})

	t.Run("Reset follows dataset bounds", func(t *testing.T) {
		c.ResetWindow()
		s := c.Snapshot()
		if s.Window == nil || *s.Window != (dataset.TimeWindow{Start: 1000, End: 2000}) {
			t.Errorf("Expected window [1000, 2000], got %v", s.Window)
		}
	})
}

// TestControllerEvents tests the event order of a successful load.
func TestControllerEvents(t *testing.T) {
	c := New(&fakeService{open: chunked(recordA, recordB)}, nil)
	defer c.Close()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.StartByIndex("a.parquet", 0, 2)

	var kinds []EventKind
	for {
		ev := <-events
		kinds = append(kinds, ev.Kind)
		if ev.Kind.Terminal() {
			if ev.Records != 2 {
				t.Errorf("Expected terminal event with 2 records, got %d", ev.Records)
			}
			break
		}
	}

	want := []EventKind{EventStarted, EventProgress, EventProgress, EventCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

// TestControllerInvalidStart tests starts that are rejected up front.
func TestControllerInvalidStart(t *testing.T) {
	c := New(&fakeService{open: chunked()}, nil)

	if _, err := c.StartByIndex("", 0, 10); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for empty file, got %v", err)
	}

	c.Close()
	if _, err := c.StartByIndex("a.parquet", 0, 10); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState after Close, got %v", err)
	}

	last, err := c.LastFile(context.Background())
	if err != nil || last != "" {
		t.Errorf("LastFile() without store = %q, %v", last, err)
	}
}
