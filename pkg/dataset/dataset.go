// Package dataset stores the position records of one load and derives the
// time bounds and visible subsets used for rendering.
package dataset

import (
	"errors"
	"sync"

	"github.com/unklstewy/ais-scope/pkg/ais"
)

// ErrFrozen is returned by Append once the load that owns the dataset has ended.
var ErrFrozen = errors.New("dataset is frozen")

// DefaultCenterLat and DefaultCenterLon are the map centre (Port of Piraeus)
// used when nothing is visible.
const (
	DefaultCenterLat = 37.9402
	DefaultCenterLon = 23.6465
)

// TimeWindow is an inclusive [Start, End] range of epoch-millis timestamps.
type TimeWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether Start <= t <= End.
func (w TimeWindow) Contains(t int64) bool {
	return w.Start <= t && t <= w.End
}

// Clamp returns the window ordered and restricted to bounds.
func (w TimeWindow) Clamp(bounds TimeWindow) TimeWindow {
	if w.Start > w.End {
		w.Start, w.End = w.End, w.Start
	}
	w.Start = clamp(w.Start, bounds.Start, bounds.End)
	w.End = clamp(w.End, bounds.Start, bounds.End)
	return w
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Dataset is an append-only, arrival-ordered sequence of position records.
//
// MinT/MaxT are kept up to date on every append and recomputed over the whole
// sequence by Finalize, so they stay correct when records arrive out of time
// order. A Dataset is safe for concurrent readers while one writer appends.
type Dataset struct {
	mu      sync.RWMutex
	records []ais.PositionRecord
	minT    int64
	maxT    int64
	frozen  bool
}

// New creates an empty Dataset.
func New() *Dataset {
	return &Dataset{}
}

// Append adds r at the end of the sequence and updates the bounds in O(1).
func (d *Dataset) Append(r ais.PositionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frozen {
		return ErrFrozen
	}

	if len(d.records) == 0 {
		d.minT, d.maxT = r.T, r.T
	} else {
		if r.T < d.minT {
			d.minT = r.T
		}
		if r.T > d.maxT {
			d.maxT = r.T
		}
	}
	d.records = append(d.records, r)
	return nil
}

// Finalize recomputes the bounds over the full sequence and freezes the
// dataset. Calling it more than once is harmless.
func (d *Dataset) Finalize() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frozen {
		return
	}
	d.minT, d.maxT = 0, 0
	for i, r := range d.records {
		if i == 0 || r.T < d.minT {
			d.minT = r.T
		}
		if i == 0 || r.T > d.maxT {
			d.maxT = r.T
		}
	}
	d.frozen = true
}

// Frozen reports whether Finalize has been called.
func (d *Dataset) Frozen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frozen
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Records returns the records in arrival order. The returned slice must not be
// modified; its capacity is clipped so appending to it never aliases the store.
func (d *Dataset) Records() []ais.PositionRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.records[:len(d.records):len(d.records)]
}

// Bounds returns [MinT, MaxT]. ok is false while the dataset is empty.
func (d *Dataset) Bounds() (w TimeWindow, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.records) == 0 {
		return TimeWindow{}, false
	}
	return TimeWindow{Start: d.minT, End: d.maxT}, true
}

// Vessels returns the unique vessel IDs in first-seen order.
func (d *Dataset) Vessels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, r := range d.records {
		if _, ok := seen[r.VesselID]; ok {
			continue
		}
		seen[r.VesselID] = struct{}{}
		ids = append(ids, r.VesselID)
	}
	return ids
}

// Center returns the map centre for a visible subset: the first record's
// position, or the Piraeus default when nothing is visible.
func Center(visible []ais.PositionRecord) (lat, lon float64) {
	if len(visible) == 0 {
		return DefaultCenterLat, DefaultCenterLon
	}
	return visible[0].Lat, visible[0].Lon
}
