package replay

import (
	"math"
	"sort"

	"github.com/unklstewy/ais-scope/pkg/ais"
)

// heatmapEpsilon widens the upper bounds so the maximum lands inside the grid
const heatmapEpsilon = 1e-9

// InWindow returns the records with startTs <= t <= endTs in arrival order.
func InWindow(records []ais.PositionRecord, startTs, endTs int64) []ais.PositionRecord {
	out := make([]ais.PositionRecord, 0, len(records))
	for _, r := range records {
		if r.T >= startTs && r.T <= endTs {
			out = append(out, r)
		}
	}
	return out
}

// Heatmap bins records into a grid of cellSize degrees anchored at the
// south-west corner of their extent. Each non-empty cell is returned at its
// centre with its count normalised by the busiest cell, ordered by row then
// column.
func Heatmap(records []ais.PositionRecord, cellSize float64) []ais.HeatmapCell {
	if len(records) == 0 || cellSize <= 0 {
		return nil
	}

	minLat, maxLat := records[0].Lat, records[0].Lat
	minLon, maxLon := records[0].Lon, records[0].Lon
	for _, r := range records[1:] {
		minLat, maxLat = math.Min(minLat, r.Lat), math.Max(maxLat, r.Lat)
		minLon, maxLon = math.Min(minLon, r.Lon), math.Max(maxLon, r.Lon)
	}

	rows := cells(minLat, maxLat, cellSize)
	cols := cells(minLon, maxLon, cellSize)

	counts := make(map[[2]int]int)
	peak := 0
	for _, r := range records {
		key := [2]int{
			binIndex(r.Lat, minLat, cellSize, rows),
			binIndex(r.Lon, minLon, cellSize, cols),
		}
		counts[key]++
		peak = max(peak, counts[key])
	}

	keys := make([][2]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	out := make([]ais.HeatmapCell, 0, len(keys))
	for _, k := range keys {
		out = append(out, ais.HeatmapCell{
			Lat:   minLat + (float64(k[0])+0.5)*cellSize,
			Lng:   minLon + (float64(k[1])+0.5)*cellSize,
			Count: float64(counts[k]) / float64(peak),
		})
	}
	return out
}

// cells returns the number of bins needed to cover [lo, hi].
func cells(lo, hi, size float64) int {
	n := int(math.Ceil((hi + heatmapEpsilon - lo) / size))
	return max(n, 1)
}

func binIndex(v, lo, size float64, n int) int {
	i := int(math.Floor((v - lo) / size))
	return min(max(i, 0), n-1)
}

// UniqueVessels counts distinct vessel IDs.
func UniqueVessels(records []ais.PositionRecord) int {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.VesselID] = struct{}{}
	}
	return len(seen)
}

// Progress is the percentage of a stream of total rows sent once done rows
// are out, in [0, 100].
func Progress(done, total int) int {
	p := done * 100 / max(total, 1)
	return min(max(p, 0), 100)
}
