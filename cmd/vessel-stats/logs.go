package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogManager shows log messages in a scrolling panel. It also implements
// io.Writer so the standard logger can be redirected into the panel while
// the terminal is owned by the UI.
type LogManager struct {
	textView *tview.TextView
}

// NewLogManager creates a new log manager keeping at most maxLines lines
func NewLogManager(maxLines int) *LogManager {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxLines)
	textView.SetBorder(true).SetTitle(" Logs ")

	return &LogManager{textView: textView}
}

// GetView returns the tview component
func (lm *LogManager) GetView() *tview.TextView {
	return lm.textView
}

// AddLog adds a log message with the specified level
func (lm *LogManager) AddLog(level LogLevel, format string, args ...any) {
	line := fmt.Sprintf("[gray]%s[-] [%s]%-5s[-] %s\n",
		time.Now().Format("15:04:05"), colorForLevel(level), level,
		tview.Escape(fmt.Sprintf(format, args...)))
	fmt.Fprint(lm.textView, line)
	lm.textView.ScrollToEnd()
}

// Info logs an info message
func (lm *LogManager) Info(format string, args ...any) {
	lm.AddLog(LogLevelInfo, format, args...)
}

// Warn logs a warning message
func (lm *LogManager) Warn(format string, args ...any) {
	lm.AddLog(LogLevelWarn, format, args...)
}

// Error logs an error message
func (lm *LogManager) Error(format string, args ...any) {
	lm.AddLog(LogLevelError, format, args...)
}

// Write implements io.Writer for log.SetOutput.
func (lm *LogManager) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	level := LogLevelInfo
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "failed") || strings.Contains(lower, "error"):
		level = LogLevelError
	case strings.Contains(lower, "warning"):
		level = LogLevelWarn
	}
	lm.AddLog(level, "%s", msg)
	return len(p), nil
}

// colorForLevel returns the tview color tag for a log level
func colorForLevel(level LogLevel) string {
	switch level {
	case LogLevelWarn:
		return "yellow"
	case LogLevelError:
		return "red"
	default:
		return "white"
	}
}
