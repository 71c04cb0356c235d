// Package terminal renders run progress as a box on an interactive terminal.
package terminal

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/JakeFAU/siteaudit/internal/progress"
	"github.com/JakeFAU/siteaudit/internal/scheduler"
)

const (
	maxLabelCells = 60
	defaultWidth  = 80
	minWidth      = 24
)

// Source supplies the progress snapshot rendered on every batch.
type Source interface {
	Progress() scheduler.ProgressSnapshot
}

// Renderer is a progress.Sink that redraws the box in place after each batch.
// On a non-interactive writer it renders nothing.
type Renderer struct {
	out    io.Writer
	source Source
	width  int
	tty    bool

	mu    sync.Mutex
	lines int
	done  bool
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithWidth forces interactive rendering at the given width.
func WithWidth(width int) Option {
	return func(r *Renderer) {
		r.tty = true
		r.width = width
	}
}

type fdWriter interface {
	io.Writer
	Fd() uintptr
}

// New builds a Renderer writing to out. Interactivity and width are probed
// from out when it is a terminal file descriptor.
func New(out io.Writer, source Source, opts ...Option) *Renderer {
	r := &Renderer{out: out, source: source, width: defaultWidth}
	if f, ok := out.(fdWriter); ok && term.IsTerminal(int(f.Fd())) {
		r.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.width < minWidth {
		r.width = minWidth
	}
	return r
}

// Interactive reports whether the renderer draws anything.
func (r *Renderer) Interactive() bool {
	return r.tty
}

// Consume redraws the box from the current snapshot. A worker-finished event
// draws the final box once.
func (r *Renderer) Consume(_ context.Context, batch []progress.Event) error {
	if !r.tty || r.source == nil {
		return nil
	}
	finished := false
	for _, evt := range batch {
		if evt.Type == progress.TypeWorkerFinished {
			finished = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	title := "Scanning"
	if finished {
		title = "Scan completed!"
		r.done = true
	}
	box := Box(title, []string{Message(r.source.Progress())}, r.width)
	var b strings.Builder
	if r.lines > 0 {
		fmt.Fprintf(&b, "\x1b[%dA\x1b[J", r.lines)
	}
	b.WriteString(box)
	r.lines = strings.Count(box, "\n")
	_, err := io.WriteString(r.out, b.String())
	return err
}

// Close implements progress.Sink.
func (r *Renderer) Close(context.Context) error {
	return nil
}

// Message formats a snapshot as a single progress line.
func Message(snap scheduler.ProgressSnapshot) string {
	pct := 0
	if snap.TotalJobs > 0 {
		pct = int(math.Round(float64(snap.CompletedJobs) / float64(snap.TotalJobs) * 100))
	}
	parts := []string{fmt.Sprintf("%d%% (%d/%d)", pct, snap.CompletedJobs, snap.TotalJobs)}
	if snap.AverageScore != nil {
		parts = append(parts, "Score: "+FormatScore(snap.AverageScore))
	}
	parts = append(parts, FormatDuration(snap.ElapsedMillis))
	if snap.RemainingMillis != nil && *snap.RemainingMillis > 0 {
		parts = append(parts, "ETA: "+FormatDuration(*snap.RemainingMillis))
	}
	if snap.CurrentJobLabel != "" {
		parts = append(parts, TruncateLabel(snap.CurrentJobLabel))
	}
	return strings.Join(parts, " • ")
}

// FormatScore renders a 0..1 score as N/100.
func FormatScore(score *float64) string {
	if score == nil {
		return "calculating..."
	}
	return fmt.Sprintf("%d/100", int(math.Round(*score*100)))
}

// FormatDuration renders milliseconds as "Xh Ym", "Xm Ys" or "Xs". Hours are
// only used past the first 60 minutes.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	if minutes > 60 {
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// TruncateLabel caps a label at 60 display cells, ending in "..." when cut.
func TruncateLabel(label string) string {
	if runewidth.StringWidth(label) <= maxLabelCells {
		return label
	}
	return runewidth.Truncate(label, maxLabelCells, "...")
}

// Box draws a framed block of the given total width. Lines wider than the
// content area wrap on display cells.
func Box(title string, messages []string, width int) string {
	if width < minWidth {
		width = minWidth
	}
	contentWidth := width - 4

	lines := []string{title, ""}
	for _, msg := range messages {
		lines = append(lines, wrap(msg, contentWidth)...)
	}

	var b strings.Builder
	b.WriteString("╭" + strings.Repeat("─", width-2) + "╮\n")
	for _, line := range lines {
		pad := contentWidth - runewidth.StringWidth(line)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(&b, "│ %s%s │\n", line, strings.Repeat(" ", pad))
	}
	b.WriteString("╰" + strings.Repeat("─", width-2) + "╯\n")
	return b.String()
}

func wrap(text string, width int) []string {
	var lines []string
	var current strings.Builder
	cells := 0
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if cells+w > width {
			lines = append(lines, current.String())
			current.Reset()
			cells = 0
		}
		current.WriteRune(r)
		cells += w
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
