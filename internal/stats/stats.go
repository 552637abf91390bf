// Package stats collects per-file unique vessel counts and orders them
// chronologically for display.
package stats

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/unklstewy/ais-scope/pkg/ais"
)

// filePrefix is the common prefix of the Piraeus monthly files
const filePrefix = "unipi_ais_dynamic_"

// fileExts are stripped from labels
var fileExts = []string{".parquet", ".json", ".msgpack", ".mpk"}

// periodToken matches the _<mon><yyyy> part of a monthly file name
var periodToken = regexp.MustCompile(`(?i)_(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)(\d{4})`)

var months = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4,
	"may": 5, "jun": 6, "jul": 7, "aug": 8,
	"sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// Label returns the short display name of file.
//
//	unipi_ais_dynamic_jan2019.parquet -> jan2019
func Label(file string) string {
	label := strings.Replace(file, filePrefix, "", 1)
	for _, ext := range fileExts {
		if trimmed, ok := strings.CutSuffix(label, ext); ok {
			return trimmed
		}
	}
	return label
}

// Period extracts the year and month a monthly file covers.
// Matching is done on the raw name, where the leading underscore is still present.
func Period(file string) (year, month int, ok bool) {
	m := periodToken.FindStringSubmatch(file)
	if m == nil {
		return 0, 0, false
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return year, months[strings.ToLower(m[1])], true
}

// Row is one line of the statistics table.
type Row struct {
	File          string
	Label         string
	UniqueVessels int
}

// Collector accumulates counts as they stream in. It is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	counts   map[string]int
	progress int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{counts: make(map[string]int)}
}

// Add records one streamed count. A repeated file replaces its earlier count.
func (c *Collector) Add(vc ais.VesselCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[vc.File] = vc.UniqueVessels
	c.progress = vc.Progress
}

// Reset clears all counts.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.counts)
	c.progress = 0
}

// Progress returns the progress of the last count added.
func (c *Collector) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Rows returns the counts ordered by period. Files without a period sort
// after dated ones; ties are broken by file name.
func (c *Collector) Rows() []Row {
	c.mu.Lock()
	rows := make([]Row, 0, len(c.counts))
	for file, n := range c.counts {
		rows = append(rows, Row{File: file, Label: Label(file), UniqueVessels: n})
	}
	c.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		yi, mi, oki := Period(rows[i].File)
		yj, mj, okj := Period(rows[j].File)
		switch {
		case oki != okj:
			return oki
		case oki && yi != yj:
			return yi < yj
		case oki && mi != mj:
			return mi < mj
		}
		return rows[i].File < rows[j].File
	})
	return rows
}

// Bar renders count as a bar of at most width cells, scaled to peak.
func Bar(count, peak, width int) string {
	if peak <= 0 || count <= 0 || width <= 0 {
		return ""
	}
	n := count * width / peak
	return strings.Repeat("█", max(n, 1))
}
