// Package output renders export run summaries for humans and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/yairfalse/runport/internal/exporter"
)

// Format names an output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Formatter writes a run summary
type Formatter interface {
	FormatSummary(summary *exporter.Summary, w io.Writer) error
}

// NewFormatter creates a formatter based on format type
func NewFormatter(format string, noColor bool) (Formatter, error) {
	switch Format(strings.ToLower(format)) {
	case FormatText, "":
		return &TextFormatter{noColor: noColor}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter writes the summary as one indented JSON document
type JSONFormatter struct{}

func (f *JSONFormatter) FormatSummary(summary *exporter.Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// TextFormatter writes a colored report
type TextFormatter struct {
	noColor bool
}

func (f *TextFormatter) FormatSummary(s *exporter.Summary, w io.Writer) error {
	var buf strings.Builder

	buf.WriteString(f.colorize(fmt.Sprintf("Export of %s (%s)", s.ProjectID, s.Region), color.FgCyan, color.Bold))
	buf.WriteString("\n")

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  Directory:\t%s\n", s.OutDir)
	fmt.Fprintf(tw, "  Resources:\t%d exported, %d skipped\n", len(s.Resources), len(s.Skipped))
	fmt.Fprintf(tw, "  Variables:\t%d\n", s.Variables)
	if s.Diff != nil {
		fmt.Fprintf(tw, "  Changes:\t%s %s %s\n",
			f.colorize(fmt.Sprintf("+%d added", len(s.Diff.Added)), color.FgGreen),
			f.colorize(fmt.Sprintf("-%d removed", len(s.Diff.Removed)), color.FgRed),
			f.colorize(fmt.Sprintf("~%d changed", len(s.Diff.Changed)), color.FgYellow))
		fmt.Fprintf(tw, "  Files:\t%d written, %d unchanged, %d removed\n",
			len(s.Written), len(s.Unchanged), len(s.Removed))
	}
	tw.Flush()

	if s.Diff != nil && !s.Diff.Empty() {
		buf.WriteString("\nChanges:\n")
		for _, ref := range s.Diff.Added {
			buf.WriteString(f.colorize("  + "+ref.String(), color.FgGreen) + "\n")
		}
		for _, ref := range s.Diff.Removed {
			buf.WriteString(f.colorize("  - "+ref.String(), color.FgRed) + "\n")
		}
		for _, c := range s.Diff.Changed {
			buf.WriteString(f.colorize("  ~ "+c.Ref.String(), color.FgYellow))
			buf.WriteString("  " + strings.Join(c.Paths, ", ") + "\n")
		}
	}

	if len(s.Skipped) > 0 {
		buf.WriteString("\nSkipped:\n")
		tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		for _, sk := range s.Skipped {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", sk.Ref, f.colorize(sk.Reason, color.FgRed), truncateString(sk.Message, 80))
		}
		tw.Flush()
	}

	if len(s.Warnings) > 0 {
		buf.WriteString("\nWarnings:\n")
		for _, warn := range s.Warnings {
			buf.WriteString("  " + f.colorize("!", color.FgYellow) + " " + warn.String() + "\n")
		}
	}

	if len(s.Published) > 0 {
		buf.WriteString(fmt.Sprintf("\nPublished %d objects to %s\n", len(s.Published), publishedPrefix(s.Published)))
	}

	buf.WriteString("\n")
	switch {
	case s.Error != "":
		buf.WriteString(f.colorize("❌ Export failed", color.FgRed, color.Bold))
		buf.WriteString(": " + s.Error)
	case s.Cancelled:
		buf.WriteString(f.colorize("⚠️  Export interrupted", color.FgYellow, color.Bold))
		buf.WriteString(fmt.Sprintf(", partial results written in %s", formatDuration(s.Duration)))
	case !s.Complete():
		buf.WriteString(f.colorize("⚠️  Partial export", color.FgYellow, color.Bold))
		buf.WriteString(fmt.Sprintf(", %d resources skipped, written in %s", len(s.Skipped), formatDuration(s.Duration)))
	default:
		buf.WriteString(f.colorize("✅ Export complete", color.FgGreen, color.Bold))
		buf.WriteString(fmt.Sprintf(" in %s", formatDuration(s.Duration)))
	}
	buf.WriteString("\n")

	_, err := io.WriteString(w, buf.String())
	return err
}

func (f *TextFormatter) colorize(text string, attrs ...color.Attribute) string {
	if f.noColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// publishedPrefix returns the longest directory shared by every object URL
func publishedPrefix(objects []string) string {
	prefix := objects[0]
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		prefix = prefix[:i+1]
	}
	for _, o := range objects[1:] {
		for !strings.HasPrefix(o, prefix) {
			i := strings.LastIndex(strings.TrimSuffix(prefix, "/"), "/")
			if i < 0 {
				return ""
			}
			prefix = prefix[:i+1]
		}
	}
	return prefix
}

// truncateString cuts s to max runes, never inside a multi-byte character
func truncateString(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
