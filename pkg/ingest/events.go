package ingest

import (
	"github.com/unklstewy/ais-scope/pkg/dataset"
)

// Mode is the query mode of a load.
type Mode int

const (
	// ModeIndex loads rows [start, end) by position in the file
	ModeIndex Mode = iota
	// ModeTime loads rows with start_ts <= t <= end_ts
	ModeTime
)

func (m Mode) String() string {
	switch m {
	case ModeIndex:
		return "index"
	case ModeTime:
		return "time"
	default:
		return "unknown"
	}
}

// op is the service operation name used in errors.
func (m Mode) op() string {
	if m == ModeTime {
		return "rows/stream_time"
	}
	return "rows/stream"
}

// EventKind identifies a controller notification.
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventCompleted
	EventCancelled
	EventFailed
	EventWindowChanged
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	case EventWindowChanged:
		return "window"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends a load.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventCancelled || k == EventFailed
}

// Event is delivered to subscribers whenever controller state changes.
type Event struct {
	Kind     EventKind
	LoadID   string
	File     string
	Mode     Mode
	Progress int
	Records  int

	// Err is set for EventFailed only
	Err error
}

// State is a point-in-time copy of the controller state.
type State struct {
	LoadID   string
	File     string
	Mode     Mode
	Loading  bool
	Progress int
	Records  int

	// Window is the current view window, nil until the dataset has records
	Window *dataset.TimeWindow

	// Err is the failure of the last load, nil if it succeeded or was cancelled
	Err error
}
