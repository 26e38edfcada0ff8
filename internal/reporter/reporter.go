// Package reporter implements the ambient terminal-reporting stack:
// semantic-colored stage output plus a file-count progress bar for
// long-running offline tools (C10's rebuild). Grounded on
// five82-reel's internal/reporter/terminal.go: same color-role split
// (cyan stage headers, green success, yellow warnings, red errors) and
// the same schollz/progressbar/v3 bar construction, trimmed to this
// system's simpler single-phase progress needs.
package reporter

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// Reporter is the interface rebuild/maintenance tools report through, so
// tests can substitute a no-op or recording implementation.
type Reporter interface {
	Stage(name string)
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	StartProgress(total int, description string) ProgressBar
}

// ProgressBar is a single progress run; Add advances it, Finish clears it.
type ProgressBar interface {
	Add(n int)
	Finish()
}

// TerminalReporter writes to the terminal with fatih/color semantic roles.
type TerminalReporter struct {
	mu        sync.Mutex
	lastStage string
	cyan      *color.Color
	green     *color.Color
	yellow    *color.Color
	red       *color.Color
}

// NewTerminalReporter constructs a TerminalReporter.
func NewTerminalReporter() *TerminalReporter {
	return &TerminalReporter{
		cyan:   color.New(color.FgCyan, color.Bold),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
	}
}

// Stage prints a new section header when the stage name changes.
func (r *TerminalReporter) Stage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastStage == name {
		return
	}
	r.lastStage = name
	fmt.Println()
	_, _ = r.cyan.Println(name)
}

func (r *TerminalReporter) Info(format string, args ...interface{}) {
	_, _ = r.green.Printf("  "+format+"\n", args...)
}

func (r *TerminalReporter) Warn(format string, args ...interface{}) {
	_, _ = r.yellow.Printf("  "+format+"\n", args...)
}

func (r *TerminalReporter) Error(format string, args ...interface{}) {
	_, _ = r.red.Printf("  "+format+"\n", args...)
}

// StartProgress returns a file-count progress bar keyed to total items.
func (r *TerminalReporter) StartProgress(total int, description string) ProgressBar {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	return terminalProgressBar{bar}
}

type terminalProgressBar struct {
	bar *progressbar.ProgressBar
}

func (p terminalProgressBar) Add(n int) { _ = p.bar.Add(n) }
func (p terminalProgressBar) Finish()   { _ = p.bar.Finish() }

// NoopReporter discards everything; used by tests and library callers that
// don't want terminal output.
type NoopReporter struct{}

func (NoopReporter) Stage(string)                     {}
func (NoopReporter) Info(string, ...interface{})      {}
func (NoopReporter) Warn(string, ...interface{})      {}
func (NoopReporter) Error(string, ...interface{})     {}
func (NoopReporter) StartProgress(int, string) ProgressBar {
	return noopProgressBar{}
}

type noopProgressBar struct{}

func (noopProgressBar) Add(int) {}
func (noopProgressBar) Finish() {}
