package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/ais-scope/internal/stats"
	"github.com/unklstewy/ais-scope/pkg/coordinates"
	"github.com/unklstewy/ais-scope/pkg/dataset"
	"github.com/unklstewy/ais-scope/pkg/ingest"
)

// sidebarWidth is reserved to the right of the map
const sidebarWidth = 36

// maxFileRows bounds the visible part of the file list
const maxFileRows = 8

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	selStyle    = lipgloss.NewStyle().Background(lipgloss.Color("237")).Foreground(lipgloss.Color("226"))
)

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("AIS SCOPE"))
	s.WriteString("  ")
	s.WriteString(m.renderStatus())
	s.WriteString("\n\n")

	if m.inputMode != inputNone {
		s.WriteString(m.renderPrompt())
		return s.String()
	}

	mapWidth := max(m.width-sidebarWidth-4, 20)
	mapHeight := max(m.height-8, 10)

	lat, lon := dataset.Center(m.visible)
	p := projector{
		center:   coordinates.Geographic{Latitude: lat, Longitude: lon},
		radiusNM: m.radiusNM,
		width:    mapWidth,
		height:   mapHeight,
	}
	layers := mapLayers{
		heading:     m.showHeading,
		course:      m.showCourse,
		arrowLength: m.cfg.Display.ArrowLength,
		heat:        m.heat,
	}

	sidebar := lipgloss.JoinVertical(lipgloss.Left,
		m.renderFiles(),
		"",
		m.renderFilters(),
		"",
		renderLegend(m.table, layers),
	)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderMap(p, m.visible, m.table, layers),
		"  ",
		lipgloss.NewStyle().Width(sidebarWidth).Render(sidebar),
	))
	s.WriteString("\n")

	if m.err != nil {
		s.WriteString(errStyle.Render("Error: " + m.err.Error()))
		s.WriteString(helpStyle.Render("  (press any key)"))
	} else if m.notice != "" {
		s.WriteString(helpStyle.Render(m.notice))
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(
		"↑/↓ file  TAB mode  ENTER load  x stop  r range  w/W window  " +
			"s stopped  h heading  c course  v/V vessel  m heatmap  +/- zoom  q quit"))
	return s.String()
}

// renderStatus shows the load state and a progress bar.
func (m model) renderStatus() string {
	st := m.state
	if st.File == "" {
		return helpStyle.Render("idle")
	}

	const barLen = 20
	filled := st.Progress * barLen / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barLen-filled)

	state := "loaded"
	switch {
	case st.Loading:
		state = "loading"
	case st.Err != nil:
		state = "failed"
	}

	line := fmt.Sprintf("%s %s %3d%%  %s (%s)  %d records, %d visible",
		state, bar, st.Progress, stats.Label(st.File), st.Mode, st.Records, len(m.visible))
	if st.Window != nil {
		line += fmt.Sprintf("  window %s .. %s", formatMillis(st.Window.Start), formatMillis(st.Window.End))
	}
	return line
}

func (m model) renderFiles() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Files (%d)", len(m.files))))
	b.WriteString("\n")
	if len(m.files) == 0 {
		b.WriteString(helpStyle.Render("  none"))
		return b.String()
	}

	first := max(0, min(m.selected-maxFileRows/2, len(m.files)-maxFileRows))
	for i := first; i < len(m.files) && i < first+maxFileRows; i++ {
		line := "  " + stats.Label(m.files[i])
		if i == m.selected {
			line = selStyle.Render("▸ " + stats.Label(m.files[i]))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) renderFilters() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Load"))
	b.WriteString("\n")
	if m.mode == ingest.ModeIndex {
		b.WriteString(fmt.Sprintf("rows [%d, %d)\n", m.startIdx, m.endIdx))
	} else if m.query != nil {
		b.WriteString(fmt.Sprintf("time %s\n  .. %s\n", formatMillis(m.query.Start), formatMillis(m.query.End)))
	} else {
		b.WriteString("time bounds pending\n")
	}

	b.WriteString(headerStyle.Render("Filter"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Only stopped: %s\n", onOff(m.onlyStopped)))
	vessel := "all"
	if m.vesselIdx >= 0 && m.vesselIdx < len(m.vessels) {
		vessel = fmt.Sprintf("%s (%d/%d)", m.vessels[m.vesselIdx], m.vesselIdx+1, len(m.vessels))
	}
	b.WriteString(fmt.Sprintf("Vessel: %s\n", vessel))
	b.WriteString(fmt.Sprintf("Radius: %.1f NM", m.radiusNM))
	return b.String()
}

func (m model) renderPrompt() string {
	promptStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	inputStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))

	var prompt string
	switch {
	case m.inputMode == inputWindow:
		prompt = "View window (start end, epoch ms):"
	case m.mode == ingest.ModeIndex:
		prompt = "Row range (start end):"
	default:
		prompt = "Time range (start end, epoch ms):"
	}

	var s strings.Builder
	s.WriteString(promptStyle.Render(prompt))
	s.WriteString("\n")
	s.WriteString(inputStyle.Render("> " + m.inputBuffer + "_"))
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("ENTER: Submit  ESC: Cancel"))
	return s.String()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}
