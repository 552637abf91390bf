// Package ingest drives one streaming load at a time from the data service into
// a Dataset and tells the UI when anything changes.
//
// A Controller owns a single background goroutine per load. UI code calls the
// Start*/Cancel/SetWindow methods and reads state through Snapshot and Visible;
// it learns about changes by subscribing to events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/dataset"
	"github.com/unklstewy/ais-scope/pkg/stream"
)

// ErrInvalidState is returned when an operation is not allowed in the
// controller's current state.
var ErrInvalidState = errors.New("invalid state")

// errCancelled ends a load goroutine after Cancel. It never leaves the package.
var errCancelled = errors.New("load cancelled")

// subscriberBuffer is the channel capacity given to each subscriber.
const subscriberBuffer = 64

// LastFileStore persists the most recently loaded file.
type LastFileStore interface {
	// LastFile returns the stored file name, or "" if none was stored.
	LastFile(ctx context.Context) (string, error)

	// SetLastFile stores file as the most recently loaded file.
	SetLastFile(ctx context.Context, file string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithChunkSize sets the read size used for row streams.
func WithChunkSize(n int) Option {
	return func(c *Controller) {
		c.chunkSize = n
	}
}

// WithContext sets the parent context of every request the controller makes.
// Cancelling it aborts in-flight requests.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) {
		c.ctx, c.stop = context.WithCancel(ctx)
	}
}

// load is the state of one Start call.
type load struct {
	id        string
	file      string
	mode      Mode
	data      *dataset.Dataset
	cancelled atomic.Bool
}

func (l *load) logf(format string, args ...any) {
	log.Printf("[Load %s] "+format, append([]any{l.id[:8]}, args...)...)
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	// mu serializes publishers so evicting and sending happen together
	mu sync.Mutex
}

// deliver queues ev without ever blocking the publisher. A progress event is
// dropped when the buffer is full; any other event replaces the oldest
// queued one.
func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		if ev.Kind == EventProgress {
			return
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber) end() {
	s.once.Do(func() { close(s.done) })
}

// Controller is the ingestion state machine: Idle, Loading, then back to Idle
// on completion, failure or cancel. At most one load is in flight.
type Controller struct {
	svc       ais.Service
	store     LastFileStore
	chunkSize int

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// mu guards everything below; the dataset, progress and loading flag
	// always change together under it.
	mu             sync.Mutex
	active         *load
	last           *load
	data           *dataset.Dataset
	progress       int
	window         *dataset.TimeWindow
	windowAdjusted bool
	err            error
	bounds         map[string]dataset.TimeWindow
	closed         bool

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// New creates an idle Controller. store may be nil, in which case nothing is
// persisted.
func New(svc ais.Service, store LastFileStore, opts ...Option) *Controller {
	c := &Controller{
		svc:       svc,
		store:     store,
		chunkSize: stream.DefaultChunkSize,
		data:      dataset.New(),
		bounds:    make(map[string]dataset.TimeWindow),
		subs:      make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ctx == nil {
		c.ctx, c.stop = context.WithCancel(context.Background())
	}
	c.data.Finalize()
	return c
}

// StartByIndex loads rows [start, end) of file.
//
// It returns false without error when a load is already in flight; the
// request is dropped, not queued. Range checks are advisory: a suspicious
// range is logged and still sent, the service decides.
func (c *Controller) StartByIndex(file string, start, end int) (bool, error) {
	if start < 0 || end < 0 || start > end {
		log.Printf("Warning: index range [%d, %d) for %s looks invalid, sending anyway", start, end, file)
	}
	return c.start(file, ModeIndex, func(ctx context.Context) (io.ReadCloser, error) {
		return c.svc.StreamByIndex(ctx, file, start, end)
	})
}

// StartByTime loads rows of file with startTs <= t <= endTs.
//
// The file's time bounds must have been resolved with ResolveTimeBounds first,
// otherwise ErrInvalidState is returned before any request is made.
func (c *Controller) StartByTime(file string, startTs, endTs int64) (bool, error) {
	c.mu.Lock()
	_, ok := c.bounds[file]
	c.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: time bounds for %q not resolved", ErrInvalidState, file)
	}
	if startTs > endTs {
		log.Printf("Warning: time range [%d, %d] for %s is reversed, sending anyway", startTs, endTs, file)
	}
	return c.start(file, ModeTime, func(ctx context.Context) (io.ReadCloser, error) {
		return c.svc.StreamByTime(ctx, file, startTs, endTs)
	})
}

func (c *Controller) start(file string, mode Mode, open func(context.Context) (io.ReadCloser, error)) (bool, error) {
	if file == "" {
		return false, fmt.Errorf("%w: no file selected", ErrInvalidState)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: controller closed", ErrInvalidState)
	}
	if c.active != nil {
		id := c.active.id[:8]
		c.mu.Unlock()
		log.Printf("Load %s in progress, dropping %s request for %s", id, mode, file)
		return false, nil
	}

	l := &load{
		id:   uuid.New().String(),
		file: file,
		mode: mode,
		data: dataset.New(),
	}
	c.active = l
	c.last = l
	c.data = l.data
	c.progress = 0
	c.window = nil
	c.windowAdjusted = false
	c.err = nil
	c.wg.Add(1)
	c.mu.Unlock()

	l.logf("Starting %s load of %s", mode, file)
	c.publish(Event{Kind: EventStarted, LoadID: l.id, File: file, Mode: mode})

	go c.run(l, open)
	return true, nil
}

func (c *Controller) run(l *load, open func(context.Context) (io.ReadCloser, error)) {
	defer c.wg.Done()
	err := c.consume(l, open)
	c.finish(l, err)
}

// consume reads the stream until it ends, fails or the load is cancelled.
// The cancel flag is checked after every suspension point.
func (c *Controller) consume(l *load, open func(context.Context) (io.ReadCloser, error)) error {
	if l.cancelled.Load() {
		return errCancelled
	}

	body, err := open(c.ctx)
	if l.cancelled.Load() {
		if body != nil {
			body.Close()
		}
		return errCancelled
	}
	if err != nil {
		return err
	}
	defer body.Close()

	dec := stream.NewDecoder()
	dec.ChunkSize = c.chunkSize

	for rec, err := range dec.Records(body) {
		if l.cancelled.Load() {
			return errCancelled
		}
		if err != nil {
			return &ais.TransportError{Op: l.mode.op(), Message: "stream interrupted", Err: err}
		}

		msg, err := ais.ParseMessage(rec)
		if err != nil {
			return err
		}
		if !c.apply(l, msg) {
			return errCancelled
		}
	}

	if rest := dec.Remainder(); len(rest) > 0 {
		l.logf("Dropping %d bytes of unterminated trailing data", len(rest))
	}
	if l.cancelled.Load() {
		return errCancelled
	}
	return nil
}

// apply appends one decoded message. It reports false if the load has been
// cancelled, in which case nothing is changed.
func (c *Controller) apply(l *load, msg ais.StreamMessage) bool {
	c.mu.Lock()
	if c.active != l || l.cancelled.Load() {
		c.mu.Unlock()
		return false
	}
	if err := l.data.Append(msg.Row); err != nil {
		c.mu.Unlock()
		return false
	}
	c.progress = msg.Progress
	if !c.windowAdjusted {
		if b, ok := l.data.Bounds(); ok {
			c.window = &b
		}
	}
	ev := Event{Kind: EventProgress, LoadID: l.id, File: l.file, Mode: l.mode, Progress: msg.Progress, Records: l.data.Len()}
	c.mu.Unlock()

	c.publish(ev)
	return true
}

func (c *Controller) finish(l *load, err error) {
	if errors.Is(err, errCancelled) {
		l.logf("Stopped after cancel")
		return
	}

	c.mu.Lock()
	if c.active != l {
		// Cancel already reported this load
		c.mu.Unlock()
		return
	}
	c.active = nil
	l.data.Finalize()
	if !c.windowAdjusted {
		if b, ok := l.data.Bounds(); ok {
			c.window = &b
		}
	}
	c.err = err
	ev := Event{LoadID: l.id, File: l.file, Mode: l.mode, Progress: c.progress, Records: l.data.Len(), Err: err}
	c.mu.Unlock()

	if err != nil {
		l.logf("Failed after %d records: %v", ev.Records, err)
		ev.Kind = EventFailed
		c.publish(ev)
		return
	}

	if l.mode == ModeIndex && c.store != nil {
		if err := c.store.SetLastFile(c.ctx, l.file); err != nil {
			l.logf("Warning: failed to save last file: %v", err)
		}
	}

	l.logf("Completed with %d records", ev.Records)
	ev.Kind = EventCompleted
	c.publish(ev)
}

// Cancel stops the load in flight, if any. When it returns no further records
// will be appended and the controller is idle. The request may keep running
// on the server until its connection is dropped. Cancel is never reported as
// an error.
func (c *Controller) Cancel() {
	c.mu.Lock()
	l := c.active
	if l == nil {
		c.mu.Unlock()
		return
	}
	l.cancelled.Store(true)
	c.active = nil
	l.data.Finalize()
	ev := Event{Kind: EventCancelled, LoadID: l.id, File: l.file, Mode: l.mode, Progress: c.progress, Records: l.data.Len()}
	c.mu.Unlock()

	l.logf("Cancelled by user at %d records", ev.Records)
	c.publish(ev)
}

// ResolveTimeBounds fetches the time bounds of file and records them as the
// query window for time-range loads.
func (c *Controller) ResolveTimeBounds(ctx context.Context, file string) (dataset.TimeWindow, error) {
	tb, err := c.svc.TimeBounds(ctx, file)
	if err != nil {
		return dataset.TimeWindow{}, fmt.Errorf("failed to resolve time bounds for %s: %w", file, err)
	}
	if tb.Min > tb.Max {
		return dataset.TimeWindow{}, fmt.Errorf("time bounds for %s are reversed: min %d > max %d", file, tb.Min, tb.Max)
	}

	w := dataset.TimeWindow{Start: tb.Min, End: tb.Max}
	c.mu.Lock()
	c.bounds[file] = w
	c.mu.Unlock()
	return w, nil
}

// TimeBounds returns the resolved time bounds of file.
func (c *Controller) TimeBounds(file string) (dataset.TimeWindow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.bounds[file]
	return w, ok
}

// SetWindow narrows the view window of the current dataset. The window is
// ordered and clamped into the dataset's [MinT, MaxT].
func (c *Controller) SetWindow(start, end int64) (dataset.TimeWindow, error) {
	c.mu.Lock()
	b, ok := c.data.Bounds()
	if !ok {
		c.mu.Unlock()
		return dataset.TimeWindow{}, fmt.Errorf("%w: no records loaded", ErrInvalidState)
	}
	w := dataset.TimeWindow{Start: start, End: end}.Clamp(b)
	c.window = &w
	c.windowAdjusted = true
	ev := c.windowEvent()
	c.mu.Unlock()

	c.publish(ev)
	return w, nil
}

// ResetWindow makes the view window follow the dataset bounds again.
func (c *Controller) ResetWindow() {
	c.mu.Lock()
	c.windowAdjusted = false
	c.window = nil
	if b, ok := c.data.Bounds(); ok {
		c.window = &b
	}
	ev := c.windowEvent()
	c.mu.Unlock()

	c.publish(ev)
}

// windowEvent must be called with mu held.
func (c *Controller) windowEvent() Event {
	ev := Event{Kind: EventWindowChanged, Progress: c.progress, Records: c.data.Len()}
	if c.last != nil {
		ev.LoadID, ev.File, ev.Mode = c.last.id, c.last.file, c.last.mode
	}
	return ev
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Loading:  c.active != nil,
		Progress: c.progress,
		Records:  c.data.Len(),
		Err:      c.err,
	}
	if c.last != nil {
		s.LoadID, s.File, s.Mode = c.last.id, c.last.file, c.last.mode
	}
	if c.window != nil {
		w := *c.window
		s.Window = &w
	}
	return s
}

// Dataset returns the dataset of the most recent load.
func (c *Controller) Dataset() *dataset.Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Visible returns the records of the current dataset that pass opts. If
// opts.Window is nil the controller's view window is used.
func (c *Controller) Visible(opts dataset.FilterOptions) []ais.PositionRecord {
	c.mu.Lock()
	data := c.data
	if opts.Window == nil && c.window != nil {
		w := *c.window
		opts.Window = &w
	}
	c.mu.Unlock()

	return dataset.Filter(data.Records(), opts)
}

// LastFile returns the persisted most recently loaded file, or "".
func (c *Controller) LastFile(ctx context.Context) (string, error) {
	if c.store == nil {
		return "", nil
	}
	file, err := c.store.LastFile(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read last file: %w", err)
	}
	return file, nil
}

// Subscribe registers for events. The returned function unsubscribes; the
// channel is not closed. Publishing never waits for a subscriber: when its
// buffer is full a new progress event is dropped and any other event evicts
// the oldest queued one. Snapshot always has the current state.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	c.subMu.Unlock()

	return s.ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
		s.end()
	}
}

func (c *Controller) publish(ev Event) {
	c.subMu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

// Wait blocks until every load goroutine has exited, including cancelled
// loads that are still waiting on their last read. It must not be called
// concurrently with Start.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels any load, aborts in-flight requests and waits for the load
// goroutine to exit. Subscriptions are ended.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Cancel()
	c.stop()
	c.wg.Wait()

	c.subMu.Lock()
	for id, s := range c.subs {
		delete(c.subs, id)
		s.end()
	}
	c.subMu.Unlock()
	return nil
}
