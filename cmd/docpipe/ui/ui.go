// Package ui renders docpipe's ingest progress to a terminal: a spinner
// for single-file runs, one bar per file for batch runs, and colored
// status lines. ProgressBar is also provided; the ingest command does not
// use it.
package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/spherical/docpipe/internal/domain"
)

var (
	noColorFlag bool
)

// Init configures color output.
func Init(noColor bool) {
	noColorFlag = noColor
	if noColor {
		color.NoColor = true
	}
}

// Spinner wraps a briandowns/spinner instance.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner starts a spinner with the given message.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return &Spinner{s: s}
}

// UpdateMessage replaces the spinner's trailing message.
func (sp *Spinner) UpdateMessage(message string) {
	sp.s.Suffix = " " + message
}

// Stop halts the spinner.
func (sp *Spinner) Stop() {
	sp.s.Stop()
}

// ProgressBar wraps a schollz/progressbar instance, used once a document's
// page count is known.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a determinate bar over total steps.
func NewProgressBar(total int64, description string) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
		progressbar.OptionFullWidth(),
	)
	return &ProgressBar{bar: bar}
}

// Set moves the bar to an absolute position.
func (p *ProgressBar) Set(current int64) { _ = p.bar.Set64(current) }

// Finish completes the bar.
func (p *ProgressBar) Finish() { _ = p.bar.Finish() }

// Success prints a green checkmark line.
func Success(format string, args ...any) {
	c := color.New(color.FgGreen)
	c.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}

// Error prints a red cross line to stderr.
func Error(format string, args ...any) {
	c := color.New(color.FgRed)
	c.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// Info prints a plain informational line.
func Info(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

// stagePercent gives each orchestrator stage a rough position on a 0-100
// bar; it doesn't need to be exact, just monotonic, for a batch ingest run.
var stagePercent = map[string]int64{
	"created":              2,
	"classify":             15,
	"layout_done":          45,
	"images_materialised":  75,
	"ready":                100,
}

// MultiBar renders one progress bar per file in a batch ingest run, so the
// operator can see every file's position at a glance instead of one
// spinner's message flipping between files.
type MultiBar struct {
	p *mpb.Progress
}

// NewMultiBar starts a multi-bar container; call Wait after every file bar
// has reached 100 to let the renderer flush.
func NewMultiBar() *MultiBar {
	return &MultiBar{p: mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))}
}

// Wait blocks until every bar added to m has completed rendering.
func (m *MultiBar) Wait() { m.p.Wait() }

// FileBar tracks one file's progress within a MultiBar.
type FileBar struct {
	bar *mpb.Bar
}

// AddFileBar registers a new bar labelled with the file's base name.
func (m *MultiBar) AddFileBar(name string) *FileBar {
	bar := m.p.AddBar(100,
		mpb.PrependDecorators(decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR})),
		mpb.AppendDecorators(decor.Percentage(decor.WC{W: 5})),
	)
	return &FileBar{bar: bar}
}

// Sink renders a domain.ProgressSink's events onto this file's bar.
func (f *FileBar) Sink() domain.ProgressSink {
	return func(event domain.StreamEvent) {
		if pct, ok := stagePercent[event.Step]; ok {
			f.bar.SetCurrent(pct)
		}
		if event.Type == domain.EventError {
			Error("%s: %v", event.Step, event.Payload)
		}
	}
}

// Fail marks the bar complete even on failure so it doesn't hang the
// container waiting for a bar that will never reach 100 on its own.
func (f *FileBar) Fail() { f.bar.SetCurrent(100) }

// Sink renders a domain.ProgressSink's events to a spinner whose message
// is updated per event; it never blocks, matching the orchestrator's
// fire-and-forget delivery contract.
func Sink(sp *Spinner) domain.ProgressSink {
	return func(event domain.StreamEvent) {
		switch event.Type {
		case domain.EventPageProcessing:
			sp.UpdateMessage(fmt.Sprintf("processing page %d", event.PageNumber))
		case domain.EventEnrichment:
			sp.UpdateMessage(fmt.Sprintf("enriching: %s", event.Step))
		case domain.EventStageComplete:
			sp.UpdateMessage(fmt.Sprintf("stage complete: %s", event.Step))
		case domain.EventError:
			Error("%v", event.Payload)
		}
	}
}
