// Package classify maps vessel speeds to display colours.
package classify

import (
	"fmt"
	"math"
)

// FallbackColor is used for records without a speed or outside every interval.
const FallbackColor = "#999999"

// Interval is a half-open speed range [Min, Max) in knots.
// A nil Max makes the interval open-ended: [Min, +inf).
type Interval struct {
	Min   float64
	Max   *float64
	Color string
	Label string
}

// Contains reports whether speed falls inside the interval.
// Min is inclusive and Max exclusive, so a boundary value always belongs to
// the interval that starts there.
func (iv Interval) Contains(speed float64) bool {
	if speed < iv.Min {
		return false
	}
	return iv.Max == nil || speed < *iv.Max
}

// Table is an ordered list of speed intervals. Lookup uses the first match.
type Table []Interval

// DefaultSpeedTable returns the speed legend used by the map.
func DefaultSpeedTable() Table {
	return Table{
		{Min: 0, Max: bound(2), Color: "#bc2fd2", Label: "0 – 2 kn"},
		{Min: 2, Max: bound(5), Color: "#2c7bb6", Label: "2 – 5 kn"},
		{Min: 5, Max: bound(10), Color: "#ffffbf", Label: "5 – 10 kn"},
		{Min: 10, Max: bound(20), Color: "#fdae61", Label: "10 – 20 kn"},
		{Min: 20, Color: "#67d1d1", Label: "≥ 20 kn"},
	}
}

func bound(v float64) *float64 {
	return &v
}

// Lookup returns the colour of the first interval containing speed.
// A nil speed, NaN, or a speed matching no interval yields FallbackColor.
func (t Table) Lookup(speed *float64) string {
	if iv, ok := t.Find(speed); ok {
		return iv.Color
	}
	return FallbackColor
}

// Find returns the first interval containing speed.
func (t Table) Find(speed *float64) (Interval, bool) {
	if speed == nil || math.IsNaN(*speed) {
		return Interval{}, false
	}
	for _, iv := range t {
		if iv.Contains(*speed) {
			return iv, true
		}
	}
	return Interval{}, false
}

// Validate checks that intervals are non-empty and in ascending order and that
// only the last one is open-ended.
func (t Table) Validate() error {
	for i, iv := range t {
		if iv.Max == nil && i != len(t)-1 {
			return fmt.Errorf("interval %d (%s) is open-ended but not last", i, iv.Label)
		}
		if iv.Max != nil && *iv.Max <= iv.Min {
			return fmt.Errorf("interval %d (%s) is empty: [%g, %g)", i, iv.Label, iv.Min, *iv.Max)
		}
		if i > 0 && t[i-1].Max != nil && iv.Min < *t[i-1].Max {
			return fmt.Errorf("interval %d (%s) overlaps its predecessor", i, iv.Label)
		}
	}
	return nil
}

// LegendEntry is one row of the on-screen speed legend.
type LegendEntry struct {
	Color string
	Label string
}

// Legend returns the table's legend rows in order.
func (t Table) Legend() []LegendEntry {
	entries := make([]LegendEntry, 0, len(t))
	for _, iv := range t {
		entries = append(entries, LegendEntry{Color: iv.Color, Label: iv.Label})
	}
	return entries
}
