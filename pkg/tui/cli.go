// Package tui renders command output for the secflow CLI.
// Simple, streaming, no complex TUI - just clean prompts and output.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/filter"
	"github.com/secflow/secflow/pkg/index"
	"github.com/secflow/secflow/pkg/orchestrate"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// Printer writes styled summaries to an output stream.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) line(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) field(label, value string) {
	p.line("  %s %s", mutedStyle.Render(label), titleStyle.Render(value))
}

// Header prints the program banner.
func (p *Printer) Header(version string) {
	p.line("")
	p.line("%s%s", titleStyle.Render("  SECFLOW"), mutedStyle.Render(" "+version))
	p.line("%s", mutedStyle.Render("  EDGAR index and filing cache"))
	p.line("")
}

// IndexUpdated summarizes a refresh.
func (p *Printer) IndexUpdated(refs []model.IndexFileRef, elapsed time.Duration) {
	p.line("")
	p.line("%s", successStyle.Render("  ✓ INDEX UPDATED"))
	p.line("")
	p.field("Files:", formatNumber(int64(len(refs))))
	if len(refs) > 0 {
		p.field("Range:", refs[0].Period.String()+" → "+refs[len(refs)-1].Period.String())
	}
	p.field("Time:", formatDuration(elapsed))
	p.line("")
}

// Filtered summarizes a filter result with a per-form breakdown.
func (p *Printer) Filtered(res *filter.Result) {
	ws := res.WorkingSet
	p.line("")
	p.line("%s", successStyle.Render("  ✓ WORKING SET READY"))
	p.line("")
	p.field("Records:", formatNumber(int64(ws.Len())))
	p.field("Scanned:", formatNumber(int64(res.Scanned)))
	p.field("Files:", fmt.Sprintf("%d", res.Files))
	p.field("Time:", formatDuration(res.Elapsed))

	counts := ws.FormCounts()
	if len(counts) > 0 {
		forms := make([]string, 0, len(counts))
		for f := range counts {
			forms = append(forms, f)
		}
		sort.Slice(forms, func(i, j int) bool {
			if counts[forms[i]] != counts[forms[j]] {
				return counts[forms[i]] > counts[forms[j]]
			}
			return forms[i] < forms[j]
		})
		if len(forms) > 10 {
			forms = forms[:10]
		}
		p.line("%s", mutedStyle.Render(rule))
		for _, f := range forms {
			p.line("  %-12s %s", f, mutedStyle.Render(formatNumber(int64(counts[f]))))
		}
		p.line("%s", mutedStyle.Render(rule))
	}

	for _, f := range res.Failures {
		p.line("  %s %s: %v", accentStyle.Render("✗"), f.Path, f.Err)
	}
	p.line("")
}

// Fetched summarizes a fetch pass.
func (p *Printer) Fetched(stats orchestrate.Stats) {
	p.line("")
	if stats.Failed > 0 {
		p.line("%s", accentStyle.Render(fmt.Sprintf("  ✗ %d %s FILES FAILED", stats.Failed, strings.ToUpper(stats.Kind.String()))))
	} else {
		p.line("%s", successStyle.Render("  ✓ "+strings.ToUpper(stats.Kind.String())+" FILES CACHED"))
	}
	p.line("")
	p.field("Records:", formatNumber(int64(stats.Total)))
	p.field("Present:", formatNumber(int64(stats.Present)))
	p.field("Fetched:", formatNumber(int64(stats.Fetched)))
	p.field("Time:", formatDuration(stats.Elapsed))
	p.line("")
}

// Pending summarizes which derived resources a fetch would download.
func (p *Printer) Pending(kind model.ResourceKind, refs []model.DerivedRef) {
	var missing []model.DerivedRef
	for _, r := range refs {
		if !r.Cached {
			missing = append(missing, r)
		}
	}
	p.line("")
	p.line("%s", titleStyle.Render("  "+strings.ToUpper(kind.String())+" FILES"))
	p.line("")
	p.field("Records:", formatNumber(int64(len(refs))))
	p.field("Present:", formatNumber(int64(len(refs)-len(missing))))
	p.field("Missing:", formatNumber(int64(len(missing))))
	for i, r := range missing {
		if i == 5 {
			p.line("  %s", mutedStyle.Render(fmt.Sprintf("... and %d more", len(missing)-i)))
			break
		}
		p.line("  %s", mutedStyle.Render(r.URL))
	}
	p.line("")
}

// Fields lists column names.
func (p *Printer) Fields(fields []string) {
	for _, f := range fields {
		p.line("  %s", codeStyle.Render(f))
	}
}

// Records prints records in index column order.
func (p *Printer) Records(records []model.FilingRecord) {
	p.line("%s", mutedStyle.Render("  "+strings.Join(index.Columns, " | ")))
	for i := range records {
		r := &records[i]
		values := make([]string, len(index.Columns))
		for j, c := range index.Columns {
			values[j] = index.Value(r, c)
		}
		p.line("  %s", strings.Join(values, " | "))
	}
}

// Exported reports a written export file.
func (p *Printer) Exported(path string, records int, size int64) {
	p.line("")
	p.line("%s", successStyle.Render("  ✓ EXPORT COMPLETE"))
	p.line("")
	p.line("  %s %s", mutedStyle.Render("Output:"), codeStyle.Render(path))
	p.field("Records:", formatNumber(int64(records)))
	if size > 0 {
		p.field("Size:", formatBytes(size))
	}
	p.line("")
}

// Cleared reports removed cache files.
func (p *Printer) Cleared(what string, n int) {
	p.line("  %s removed %d %s files", successStyle.Render("✓"), n, what)
}

// Confirm asks a yes/no question. Anything but y or yes, including an
// empty answer or closed input, means no.
func Confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes", nil
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar for total steps.
func ShowProgress(out io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Progress returns a factory for progress bars written to out.
func Progress(out io.Writer) index.ProgressFunc {
	return func(total int, description string) index.Progress {
		return ShowProgress(out, total, description)
	}
}
