package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/classify"
	"github.com/unklstewy/ais-scope/pkg/config"
	"github.com/unklstewy/ais-scope/pkg/dataset"
	"github.com/unklstewy/ais-scope/pkg/ingest"
)

// Map radius limits in nautical miles
const (
	minRadiusNM = 0.5
	maxRadiusNM = 200
)

// Input modes
const (
	inputNone   = ""
	inputRange  = "range"  // next load range
	inputWindow = "window" // view window
)

type model struct {
	cfg    *config.Config
	client *ais.Client
	ctrl   *ingest.Controller
	events <-chan ingest.Event
	table  classify.Table

	// File selection
	files    []string
	selected int
	bounds   map[string]dataset.TimeWindow

	// Next load
	mode     ingest.Mode
	startIdx int
	endIdx   int
	query    *dataset.TimeWindow

	// Filters and layers
	onlyStopped bool
	showHeading bool
	showCourse  bool
	showHeat    bool
	vessels     []string
	vesselIdx   int // -1 = all vessels
	heat        []ais.HeatmapCell

	// Loaded data
	state   ingest.State
	visible []ais.PositionRecord

	radiusNM float64
	width    int
	height   int

	inputMode   string
	inputBuffer string
	err         error
	notice      string
}

func newModel(cfg *config.Config, client *ais.Client, ctrl *ingest.Controller, events <-chan ingest.Event) model {
	return model{
		cfg:         cfg,
		client:      client,
		ctrl:        ctrl,
		events:      events,
		table:       classify.DefaultSpeedTable(),
		bounds:      make(map[string]dataset.TimeWindow),
		startIdx:    cfg.Display.StartIndex,
		endIdx:      cfg.Display.EndIndex,
		onlyStopped: cfg.Display.OnlyStopped,
		showHeading: cfg.Display.ShowHeading,
		showCourse:  cfg.Display.ShowCourse,
		vesselIdx:   -1,
		radiusNM:    cfg.Display.RadiusNM,
		width:       100,
		height:      40,
	}
}

// Messages

type filesMsg struct {
	files []string
	last  string
	err   error
}

type eventMsg ingest.Event

type boundsMsg struct {
	file   string
	window dataset.TimeWindow
	err    error
}

type heatmapMsg struct {
	file  string
	cells []ais.HeatmapCell
	err   error
}

// Commands

func fetchFiles(client *ais.Client, ctrl *ingest.Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		list, err := client.ListFiles(ctx)
		if err != nil {
			return filesMsg{err: err}
		}
		files := make([]string, len(list))
		for i, f := range list {
			files[i] = f.Name
		}
		last, err := ctrl.LastFile(ctx)
		if err != nil {
			log.Printf("Warning: failed to read last file: %v", err)
		}
		return filesMsg{files: files, last: last}
	}
}

// waitForEvent delivers the next controller event to Update.
func waitForEvent(events <-chan ingest.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-events)
	}
}

func fetchBounds(ctrl *ingest.Controller, file string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		w, err := ctrl.ResolveTimeBounds(ctx, file)
		return boundsMsg{file: file, window: w, err: err}
	}
}

func fetchHeatmap(client *ais.Client, file string, w dataset.TimeWindow, cellSize float64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		cells, err := client.Heatmap(ctx, file, w.Start, w.End, cellSize)
		return heatmapMsg{file: file, cells: cells, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchFiles(m.client, m.ctrl), waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.inputMode != inputNone {
			return m.updateInput(msg)
		}
		// Clear error on any keypress
		if m.err != nil {
			m.err = nil
			return m, nil
		}
		return m.updateKeys(msg)

	case filesMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to list files: %w", msg.err)
			return m, nil
		}
		m.files = msg.files
		m.selected = 0
		for i, f := range m.files {
			if f == msg.last {
				m.selected = i
				break
			}
		}
		return m, m.selectFile()

	case boundsMsg:
		if msg.err != nil {
			log.Printf("Failed to get time bounds of %s: %v", msg.file, msg.err)
			return m, nil
		}
		m.bounds[msg.file] = msg.window
		if msg.file == m.currentFile() {
			w := msg.window
			m.query = &w
		}
		return m, nil

	case heatmapMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch heatmap: %w", msg.err)
			m.showHeat = false
			return m, nil
		}
		if m.showHeat && msg.file == m.state.File {
			m.heat = msg.cells
		}
		return m, nil

	case eventMsg:
		m.onEvent(ingest.Event(msg))
		return m, waitForEvent(m.events)
	}

	return m, nil
}

// onEvent refreshes the view from the controller after a state change.
func (m *model) onEvent(ev ingest.Event) {
	m.state = m.ctrl.Snapshot()

	switch ev.Kind {
	case ingest.EventStarted:
		m.notice = ""
		m.heat = nil
		m.showHeat = false
		m.vessels = nil
		m.vesselIdx = -1
	case ingest.EventCompleted, ingest.EventCancelled:
		m.vessels = m.ctrl.Dataset().Vessels()
		if ev.Kind == ingest.EventCancelled {
			m.notice = fmt.Sprintf("Stopped with %d records", ev.Records)
		}
	case ingest.EventFailed:
		m.vessels = m.ctrl.Dataset().Vessels()
		m.err = ev.Err
	}
	m.refreshVisible()
}

func (m *model) refreshVisible() {
	opts := dataset.FilterOptions{OnlyStopped: m.onlyStopped}
	if m.vesselIdx >= 0 && m.vesselIdx < len(m.vessels) {
		opts.VesselID = m.vessels[m.vesselIdx]
	}
	m.visible = m.ctrl.Visible(opts)
}

func (m model) currentFile() string {
	if m.selected < 0 || m.selected >= len(m.files) {
		return ""
	}
	return m.files[m.selected]
}

// selectFile resets the query window for the selected file, fetching its
// time bounds if they are not known yet.
func (m *model) selectFile() tea.Cmd {
	file := m.currentFile()
	if file == "" {
		return nil
	}
	if w, ok := m.bounds[file]; ok {
		m.query = &w
		return nil
	}
	m.query = nil
	return fetchBounds(m.ctrl, file)
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.ctrl.Cancel()
		return m, tea.Quit

	case "up", "k":
		if !m.state.Loading && m.selected > 0 {
			m.selected--
			return m, m.selectFile()
		}
	case "down", "j":
		if !m.state.Loading && m.selected < len(m.files)-1 {
			m.selected++
			return m, m.selectFile()
		}

	case "tab":
		if m.mode == ingest.ModeIndex {
			m.mode = ingest.ModeTime
		} else {
			m.mode = ingest.ModeIndex
		}

	case "enter", "l":
		m.startLoad()

	case "x", "esc":
		m.ctrl.Cancel()

	case "r":
		m.inputMode = inputRange
		if m.mode == ingest.ModeIndex {
			m.inputBuffer = fmt.Sprintf("%d %d", m.startIdx, m.endIdx)
		} else if m.query != nil {
			m.inputBuffer = fmt.Sprintf("%d %d", m.query.Start, m.query.End)
		} else {
			m.inputBuffer = ""
		}

	case "w":
		if m.state.Window == nil {
			m.notice = "Nothing loaded yet"
			return m, nil
		}
		m.inputMode = inputWindow
		m.inputBuffer = fmt.Sprintf("%d %d", m.state.Window.Start, m.state.Window.End)
	case "W":
		m.ctrl.ResetWindow()

	case "s":
		m.onlyStopped = !m.onlyStopped
		m.refreshVisible()
	case "h":
		m.showHeading = !m.showHeading
	case "c":
		m.showCourse = !m.showCourse

	case "v":
		m.cycleVessel(1)
	case "V":
		m.cycleVessel(-1)

	case "m":
		m.showHeat = !m.showHeat
		m.heat = nil
		if m.showHeat {
			if m.state.File == "" || m.state.Window == nil {
				m.showHeat = false
				m.notice = "Load a file before requesting a heatmap"
				return m, nil
			}
			return m, fetchHeatmap(m.client, m.state.File, *m.state.Window, m.cfg.Display.HeatmapCellSize)
		}

	case "+", "=":
		m.radiusNM = max(m.radiusNM/1.5, minRadiusNM)
	case "-", "_":
		m.radiusNM = min(m.radiusNM*1.5, maxRadiusNM)
	}
	return m, nil
}

func (m *model) cycleVessel(step int) {
	n := len(m.vessels)
	if n == 0 {
		return
	}
	// Positions 0..n-1 are vessels, n is "all"
	pos := m.vesselIdx
	if pos < 0 {
		pos = n
	}
	pos = (pos + step + n + 1) % (n + 1)
	if pos == n {
		pos = -1
	}
	m.vesselIdx = pos
	m.refreshVisible()
}

func (m *model) startLoad() {
	file := m.currentFile()
	if file == "" {
		m.notice = "No file selected"
		return
	}

	var (
		started bool
		err     error
	)
	if m.mode == ingest.ModeIndex {
		started, err = m.ctrl.StartByIndex(file, m.startIdx, m.endIdx)
	} else {
		if m.query == nil {
			m.notice = "Time bounds not known yet"
			return
		}
		started, err = m.ctrl.StartByTime(file, m.query.Start, m.query.End)
	}
	switch {
	case err != nil:
		m.err = err
	case !started:
		m.notice = "A load is already running"
	}
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		a, b, err := parsePair(m.inputBuffer)
		if err != nil {
			m.err = err
		} else {
			m.applyInput(a, b)
		}
		m.inputMode = inputNone
		m.inputBuffer = ""
	case "esc":
		m.inputMode = inputNone
		m.inputBuffer = ""
	case "backspace":
		if len(m.inputBuffer) > 0 {
			m.inputBuffer = m.inputBuffer[:len(m.inputBuffer)-1]
		}
	default:
		if len(msg.String()) == 1 {
			m.inputBuffer += msg.String()
		}
	}
	return m, nil
}

func (m *model) applyInput(a, b int64) {
	switch m.inputMode {
	case inputRange:
		if m.mode == ingest.ModeIndex {
			m.startIdx, m.endIdx = int(a), int(b)
			return
		}
		w := dataset.TimeWindow{Start: a, End: b}
		if bounds, ok := m.bounds[m.currentFile()]; ok {
			w = w.Clamp(bounds)
		}
		m.query = &w
	case inputWindow:
		if _, err := m.ctrl.SetWindow(a, b); err != nil {
			m.err = err
		}
	}
}

// parsePair reads two integers separated by spaces or a comma.
func parsePair(s string) (int64, int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two numbers, got %q", s)
	}
	a, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", fields[0])
	}
	b, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", fields[1])
	}
	return a, b, nil
}
