package dataset

import "github.com/unklstewy/ais-scope/pkg/ais"

// FilterOptions selects the visible subset of a dataset.
type FilterOptions struct {
	// OnlyStopped keeps only records with an explicit zero speed
	OnlyStopped bool

	// Window restricts records to Start <= t <= End; nil means no window yet
	Window *TimeWindow

	// VesselID keeps a single vessel; "" keeps all
	VesselID string
}

// Match reports whether r passes the filter.
func (o FilterOptions) Match(r ais.PositionRecord) bool {
	if o.OnlyStopped && !r.Stopped() {
		return false
	}
	// No window established yet: nothing to check
	if o.Window != nil && !o.Window.Contains(r.T) {
		return false
	}
	if o.VesselID != "" && r.VesselID != o.VesselID {
		return false
	}
	return true
}

// Filter returns the records matching opts, preserving their relative order.
// It never modifies records and filtering its own output again with the same
// options returns the same sequence.
func Filter(records []ais.PositionRecord, opts FilterOptions) []ais.PositionRecord {
	out := make([]ais.PositionRecord, 0, len(records))
	for _, r := range records {
		if opts.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
