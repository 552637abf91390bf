package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/classify"
	"github.com/unklstewy/ais-scope/pkg/coordinates"
)

// Character aspect ratio correction: terminal characters are ~2:1 (height:width)
const aspectRatio = 0.5

// Marker colours
const (
	headingColor = "#1e64ff" // blue
	courseColor  = "#ff2d2d" // red
	borderColor  = "240"
	ringColor    = "238"
)

// heatShades go from the least to the busiest heatmap cell
var heatShades = []rune{'░', '▒', '▓', '█'}

// cell is one character of the map grid
type cell struct {
	ch    rune
	color string
}

// projector maps positions onto a width x height character grid centred on
// center, showing radiusNM nautical miles in the smaller dimension.
type projector struct {
	center   coordinates.Geographic
	radiusNM float64
	width    int
	height   int
}

// scale returns screen rows per nautical mile.
func (p projector) scale() float64 {
	maxY := float64(p.height/2 - 1)
	maxX := float64(p.width/2-1) * aspectRatio
	return math.Max(math.Min(maxX, maxY), 1) / p.radiusNM
}

// toScreen converts a position to grid coordinates. ok is false outside the grid.
func (p projector) toScreen(lat, lon float64) (x, y int, ok bool) {
	pos := coordinates.Geographic{Latitude: lat, Longitude: lon}
	distanceNM, bearingDeg := coordinates.Polar(p.center, pos)
	bearingRad := bearingDeg * coordinates.DegreesToRadians

	// Bearing 0° = North = up = negative Y
	screenDist := distanceNM * p.scale()
	dx := math.Round(screenDist * math.Sin(bearingRad) / aspectRatio)
	dy := -math.Round(screenDist * math.Cos(bearingRad))

	x = p.width/2 + int(dx)
	y = p.height/2 + int(dy)
	if x < 0 || x >= p.width || y < 0 || y >= p.height {
		return -1, -1, false
	}
	return x, y, true
}

// mapLayers selects what renderMap draws
type mapLayers struct {
	heading     bool
	course      bool
	arrowLength float64
	heat        []ais.HeatmapCell
}

// renderMap draws records (and optionally a heatmap) as a bordered character map.
func renderMap(p projector, records []ais.PositionRecord, table classify.Table, layers mapLayers) string {
	grid := make([][]cell, p.height)
	for y := range grid {
		grid[y] = make([]cell, p.width)
		for x := range grid[y] {
			grid[y][x] = cell{ch: ' '}
		}
	}

	drawRings(grid, p)

	for _, h := range layers.heat {
		x, y, ok := p.toScreen(h.Lat, h.Lng)
		if !ok {
			continue
		}
		grid[y][x] = cell{ch: heatGlyph(h.Count), color: "208"}
	}

	// Markers first so positions are drawn on top
	for _, r := range records {
		if layers.heading && r.Heading != nil {
			drawArrow(grid, p, r, *r.Heading, layers.arrowLength, headingColor)
		}
		if layers.course && r.Course != nil {
			drawArrow(grid, p, r, *r.Course, layers.arrowLength, courseColor)
		}
	}
	for _, r := range records {
		x, y, ok := p.toScreen(r.Lat, r.Lon)
		if !ok {
			continue
		}
		grid[y][x] = cell{ch: '●', color: table.Lookup(r.Speed)}
	}

	var b strings.Builder
	border := lipgloss.NewStyle().Foreground(lipgloss.Color(borderColor))
	b.WriteString(border.Render("┌" + strings.Repeat("─", p.width) + "┐"))
	b.WriteString("\n")
	for _, row := range grid {
		b.WriteString(border.Render("│"))
		for _, c := range row {
			if c.color == "" {
				b.WriteRune(c.ch)
				continue
			}
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(c.color)).Render(string(c.ch)))
		}
		b.WriteString(border.Render("│"))
		b.WriteString("\n")
	}
	b.WriteString(border.Render("└" + strings.Repeat("─", p.width) + "┘"))
	return b.String()
}

// drawRings draws range rings at half and full radius plus the cardinal points.
func drawRings(grid [][]cell, p projector) {
	cx, cy := p.width/2, p.height/2
	rows := p.radiusNM * p.scale()

	for _, frac := range []float64{0.5, 1} {
		r := rows * frac
		for deg := 0; deg < 360; deg += 2 {
			rad := float64(deg) * coordinates.DegreesToRadians
			x := cx + int(math.Round(r*math.Sin(rad)/aspectRatio))
			y := cy - int(math.Round(r*math.Cos(rad)))
			setCell(grid, x, y, cell{ch: '·', color: ringColor})
		}
	}

	r := int(rows)
	setCell(grid, cx, cy-r, cell{ch: 'N', color: "244"})
	setCell(grid, cx+int(float64(r)/aspectRatio), cy, cell{ch: 'E', color: "244"})
	setCell(grid, cx, cy+r, cell{ch: 'S', color: "244"})
	setCell(grid, cx-int(float64(r)/aspectRatio), cy, cell{ch: 'W', color: "244"})
	setCell(grid, cx, cy, cell{ch: '+', color: "244"})
}

// drawArrow draws the heading or course marker of r. The marker always
// covers at least one cell so short arrows stay visible when zoomed out.
func drawArrow(grid [][]cell, p projector, r ais.PositionRecord, angleDeg, length float64, color string) {
	x0, y0, ok := p.toScreen(r.Lat, r.Lon)
	if !ok {
		return
	}

	seg := coordinates.ComputeArrow(r.Lat, r.Lon, angleDeg, length)
	dx, dy := 0, 0
	if x1, y1, ok := p.toScreen(seg[1].Latitude, seg[1].Longitude); ok {
		dx, dy = x1-x0, y1-y0
	}
	if dx == 0 && dy == 0 {
		rad := angleDeg * coordinates.DegreesToRadians
		dx = int(math.Round(math.Sin(rad)))
		dy = -int(math.Round(math.Cos(rad)))
	}

	glyph := arrowGlyph(angleDeg)
	steps := max(abs(dx), abs(dy))
	for i := 1; i <= steps; i++ {
		x := x0 + int(math.Round(float64(dx*i)/float64(steps)))
		y := y0 + int(math.Round(float64(dy*i)/float64(steps)))
		setCell(grid, x, y, cell{ch: glyph, color: color})
	}
}

// arrowGlyph picks the line character closest to a compass angle.
func arrowGlyph(angleDeg float64) rune {
	glyphs := []rune{'│', '╱', '─', '╲'}
	sector := int(math.Round(coordinates.NormalizeAzimuth(angleDeg)/45)) % 4
	return glyphs[sector]
}

func heatGlyph(count float64) rune {
	i := int(count * float64(len(heatShades)))
	return heatShades[min(max(i, 0), len(heatShades)-1)]
}

// setCell writes c if (x, y) is inside the grid and the cell is free or a ring.
func setCell(grid [][]cell, x, y int, c cell) {
	if y < 0 || y >= len(grid) || x < 0 || x >= len(grid[0]) {
		return
	}
	if cur := grid[y][x].ch; cur == ' ' || cur == '·' {
		grid[y][x] = c
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// renderLegend renders the speed legend and marker key.
func renderLegend(table classify.Table, layers mapLayers) string {
	var leg strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	leg.WriteString(headerStyle.Render("Speed"))
	leg.WriteString("\n")
	for _, e := range table.Legend() {
		leg.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(e.Color)).Render("●"))
		leg.WriteString(" " + e.Label + "\n")
	}
	leg.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(classify.FallbackColor)).Render("●"))
	leg.WriteString(" unknown\n\n")

	leg.WriteString(headerStyle.Render("Markers"))
	leg.WriteString("\n")
	leg.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(headingColor)).Render("─"))
	leg.WriteString(fmt.Sprintf(" Heading %s\n", onOff(layers.heading)))
	leg.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(courseColor)).Render("─"))
	leg.WriteString(fmt.Sprintf(" Course  %s\n", onOff(layers.course)))
	if len(layers.heat) > 0 {
		leg.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render(string(heatShades)))
		leg.WriteString(" Density\n")
	}
	return leg.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
