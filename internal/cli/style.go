package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("#22C55E")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#94A3B8")
)

// statusPrinter writes short styled lines to the terminal. The renderer detects
// the writer's color support, so piped output stays plain.
type statusPrinter struct {
	out     io.Writer
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	muted   lipgloss.Style
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	r := lipgloss.NewRenderer(out)
	return &statusPrinter{
		out:     out,
		success: r.NewStyle().Foreground(colorSuccess).Bold(true),
		failure: r.NewStyle().Foreground(colorError).Bold(true),
		warning: r.NewStyle().Foreground(colorWarning),
		muted:   r.NewStyle().Foreground(colorMuted),
	}
}

func (p *statusPrinter) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.success.Render("✓ "+fmt.Sprintf(format, args...)))
}

func (p *statusPrinter) Failure(format string, args ...any) {
	fmt.Fprintln(p.out, p.failure.Render("✗ "+fmt.Sprintf(format, args...)))
}

func (p *statusPrinter) Warning(format string, args ...any) {
	fmt.Fprintln(p.out, p.warning.Render("! "+fmt.Sprintf(format, args...)))
}

func (p *statusPrinter) Muted(format string, args ...any) {
	fmt.Fprintln(p.out, p.muted.Render(fmt.Sprintf(format, args...)))
}
