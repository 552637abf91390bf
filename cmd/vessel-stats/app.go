package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/ais-scope/internal/stats"
	"github.com/unklstewy/ais-scope/pkg/ais"
)

// barWidth is the width of the count bars in table cells
const barWidth = 30

// App is the unique vessel statistics browser
type App struct {
	client *ais.Client

	// UI components
	tviewApp *tview.Application
	fileList *tview.List
	table    *tview.Table
	status   *tview.TextView
	logs     *LogManager

	// State
	mu        sync.Mutex
	files     []string
	selected  map[string]bool
	collector *stats.Collector
	cancel    context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(client *ais.Client) *App {
	a := &App{
		client:    client,
		selected:  make(map[string]bool),
		collector: stats.NewCollector(),
	}
	a.setupUI()
	return a
}

// setupUI initializes the user interface
func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication()

	a.fileList = tview.NewList().ShowSecondaryText(false)
	a.fileList.SetBorder(true).SetTitle(" Files ")

	a.table = tview.NewTable().SetBorders(false).SetFixed(1, 0)
	a.table.SetBorder(true).SetTitle(" Unique vessels ")

	a.status = tview.NewTextView().SetDynamicColors(true)
	a.status.SetBorder(true).SetTitle(" Status ")

	a.logs = NewLogManager(200)
	a.logs.GetView().SetChangedFunc(func() { a.tviewApp.Draw() })

	controls := tview.NewTextView().SetDynamicColors(true).SetText(
		"[white]SPACE[-] toggle  [white]a[-] all  [white]ENTER/r[-] run  " +
			"[white]s[-] stop  [white]f[-] refresh  [white]q[-] quit")

	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.fileList, 0, 1, true).
		AddItem(a.status, 3, 0, false)

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.table, 0, 7, false).
		AddItem(a.logs.GetView(), 0, 3, false)

	body := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(sidebar, 0, 3, true).
		AddItem(right, 0, 7, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(controls, 1, 0, false)

	a.tviewApp.SetRoot(root, true)
	a.tviewApp.SetInputCapture(a.handleKeyboard)

	a.renderTable()
	a.renderStatus("idle")
}

// Run loads the file list and runs the UI until quit
func (a *App) Run() error {
	go a.refreshFiles()
	return a.tviewApp.Run()
}

// Logger returns the writer used for the standard logger while the UI runs
func (a *App) Logger() *LogManager {
	return a.logs
}

// handleKeyboard handles keyboard input
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	key := event.Key()
	r := event.Rune()

	switch {
	case key == tcell.KeyEscape || r == 'q':
		a.Stop()
		return nil
	case r == ' ':
		a.toggleCurrent()
		return nil
	case r == 'a':
		a.toggleAll()
		return nil
	case key == tcell.KeyEnter || r == 'r':
		a.runAnalysis()
		return nil
	case r == 's':
		a.stopAnalysis()
		return nil
	case r == 'f':
		go a.refreshFiles()
		return nil
	}
	return event
}

// refreshFiles fetches the file list from the service
func (a *App) refreshFiles() {
	files, err := a.client.ListFiles(context.Background())
	if err != nil {
		a.logs.Error("Failed to list files: %v", err)
		return
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}

	a.mu.Lock()
	a.files = names
	a.mu.Unlock()

	a.logs.Info("%d files available", len(names))
	a.tviewApp.QueueUpdateDraw(a.renderFileList)
}

// renderFileList must run on the UI goroutine
func (a *App) renderFileList() {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.fileList.GetCurrentItem()
	a.fileList.Clear()
	for _, f := range a.files {
		a.fileList.AddItem(a.itemText(f), "", 0, nil)
	}
	if current < len(a.files) {
		a.fileList.SetCurrentItem(current)
	}
}

// itemText must be called with mu held
func (a *App) itemText(file string) string {
	mark := "[ ]"
	if a.selected[file] {
		mark = "[x]"
	}
	return tview.Escape(mark) + " " + stats.Label(file)
}

func (a *App) toggleCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := a.fileList.GetCurrentItem()
	if i < 0 || i >= len(a.files) {
		return
	}
	f := a.files[i]
	a.selected[f] = !a.selected[f]
	a.fileList.SetItemText(i, a.itemText(f), "")
}

// toggleAll selects every file, or clears the selection if all are selected
func (a *App) toggleAll() {
	a.mu.Lock()
	all := len(a.files) > 0
	for _, f := range a.files {
		all = all && a.selected[f]
	}
	for _, f := range a.files {
		a.selected[f] = !all
	}
	for i, f := range a.files {
		a.fileList.SetItemText(i, a.itemText(f), "")
	}
	a.mu.Unlock()
}

// runAnalysis streams unique vessel counts for the selected files
func (a *App) runAnalysis() {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		a.logs.Warn("Analysis already running")
		return
	}
	var files []string
	for _, f := range a.files {
		if a.selected[f] {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		a.mu.Unlock()
		a.logs.Warn("No files selected")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	a.collector.Reset()
	a.renderTable()
	a.renderStatus("running")
	a.logs.Info("Counting unique vessels in %d files", len(files))

	go func() {
		err := a.client.UniqueVesselsMulti(ctx, files, func(vc ais.VesselCount) error {
			a.collector.Add(vc)
			a.tviewApp.QueueUpdateDraw(func() {
				a.renderTable()
				a.renderStatus("running")
			})
			return nil
		})

		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
		cancel()

		state := "done"
		switch {
		case ctx.Err() != nil:
			state = "stopped"
			a.logs.Warn("Analysis stopped")
		case err != nil:
			state = "failed"
			a.logs.Error("Analysis failed: %v", err)
		default:
			a.logs.Info("Analysis complete")
		}
		a.tviewApp.QueueUpdateDraw(func() { a.renderStatus(state) })
	}()
}

func (a *App) stopAnalysis() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// renderTable redraws the results table in chronological order
func (a *App) renderTable() {
	a.table.Clear()
	for col, title := range []string{"File", "Vessels", ""} {
		a.table.SetCell(0, col, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}

	rows := a.collector.Rows()
	peak := 0
	for _, r := range rows {
		peak = max(peak, r.UniqueVessels)
	}
	for i, r := range rows {
		a.table.SetCell(i+1, 0, tview.NewTableCell(r.Label))
		a.table.SetCell(i+1, 1, tview.NewTableCell(fmt.Sprintf("%d", r.UniqueVessels)).
			SetAlign(tview.AlignRight))
		a.table.SetCell(i+1, 2, tview.NewTableCell(stats.Bar(r.UniqueVessels, peak, barWidth)).
			SetTextColor(tcell.ColorDodgerBlue))
	}
}

func (a *App) renderStatus(state string) {
	a.status.SetText(fmt.Sprintf("[white]%s[-] [gray]%3d%%[-]", state, a.collector.Progress()))
}

// Stop stops the application
func (a *App) Stop() {
	a.stopAnalysis()
	a.tviewApp.Stop()
}
