package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ProgressBar follows the describe phase of an export on a terminal line
type ProgressBar struct {
	mu         sync.Mutex
	writer     io.Writer
	title      string
	total      int64
	current    int64
	width      int
	showETA    bool
	startTime  time.Time
	isComplete bool
	noColor    bool
	now        func() time.Time
}

// ProgressBarConfig configures a progress bar
type ProgressBarConfig struct {
	Title   string
	Width   int
	ShowETA bool
	NoColor bool
	Writer  io.Writer
}

// NewProgressBar creates a progress bar. The total is set by Start.
func NewProgressBar(config ProgressBarConfig) *ProgressBar {
	if config.Width == 0 {
		config.Width = 30
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}

	return &ProgressBar{
		writer:  config.Writer,
		title:   config.Title,
		width:   config.Width,
		showETA: config.ShowETA,
		noColor: config.NoColor,
		now:     time.Now,
	}
}

// Start resets the bar for total units of work
func (p *ProgressBar) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.isComplete = total == 0
	p.startTime = p.now()
	p.render()
}

// Increment advances the bar; it never passes the total
func (p *ProgressBar) Increment(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current += delta
	if p.current >= p.total {
		p.current = p.total
		p.isComplete = true
	}
	p.render()
}

// Finish ends the line. An interrupted run leaves the bar where it stopped.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total == 0 {
		return
	}
	p.render()
	fmt.Fprintln(p.writer)
}

func (p *ProgressBar) render() {
	if p.total == 0 {
		return
	}

	ratio := float64(p.current) / float64(p.total)
	filled := int(ratio * float64(p.width))
	if filled > p.width {
		filled = p.width
	}

	var bar strings.Builder
	if p.title != "" {
		bar.WriteString(p.colorize(p.title+" ", color.FgCyan))
	}

	bar.WriteString("[")
	if filled > 0 {
		bar.WriteString(p.colorize(strings.Repeat("█", filled), color.FgGreen))
	}
	bar.WriteString(strings.Repeat("░", p.width-filled))
	bar.WriteString("]")

	bar.WriteString(fmt.Sprintf(" %s/%s",
		p.colorize(formatNumber(p.current), color.FgWhite, color.Bold),
		formatNumber(p.total)))

	if p.showETA && !p.isComplete && p.current > 0 {
		elapsed := p.now().Sub(p.startTime)
		remaining := time.Duration(float64(elapsed) / float64(p.current) * float64(p.total-p.current))
		bar.WriteString(" ETA " + p.colorize(formatDuration(remaining), color.FgYellow))
	}

	if p.isComplete {
		bar.WriteString(" " + p.colorize("done", color.FgGreen))
	}

	fmt.Fprintf(p.writer, "\r%s\r%s", strings.Repeat(" ", 80), bar.String())
}

func (p *ProgressBar) colorize(text string, attrs ...color.Attribute) string {
	if p.noColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// formatNumber formats a number with appropriate units
func formatNumber(n int64) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 1000000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
