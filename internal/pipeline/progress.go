package pipeline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/danielpatrickdp/modelcraft/internal/report"
)

// Progress prints one styled line per cycle for people watching a run.
type Progress struct {
	w      io.Writer
	em     bool
	label  lipgloss.Style
	value  lipgloss.Style
	better lipgloss.Style
	faint  lipgloss.Style
	fatal  lipgloss.Style
}

// NewProgress writes to w. A nil w disables output.
func NewProgress(w io.Writer, em bool) *Progress {
	return &Progress{
		w:      w,
		em:     em,
		label:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		value:  lipgloss.NewStyle().Foreground(lipgloss.Color("#DDDDDD")),
		better: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50")),
		faint:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		fatal:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
	}
}

// Cycle prints the record for a finished cycle.
func (p *Progress) Cycle(rec report.CycleRecord, improved bool) {
	if p == nil || p.w == nil {
		return
	}
	line := fmt.Sprintf("%s %s", p.label.Render(fmt.Sprintf("Cycle %-3d", rec.Cycle)),
		p.value.Render(fmt.Sprintf("residues %5d  waters %4d  dummies %4d", rec.Residues, rec.Waters, rec.Dummies)))
	if p.em {
		line += p.value.Render(fmt.Sprintf("  FSC %.4f", rec.FSC))
	} else {
		line += p.value.Render(fmt.Sprintf("  R-work %.4f  R-free %.4f", rec.RWork, rec.RFree))
	}
	line += p.faint.Render(fmt.Sprintf("  %6.1fs", rec.Seconds))
	if improved {
		line += " " + p.better.Render("best")
	}
	fmt.Fprintln(p.w, line)
}

// Message prints a plain status line.
func (p *Progress) Message(msg string) {
	if p == nil || p.w == nil {
		return
	}
	fmt.Fprintln(p.w, p.faint.Render(msg))
}

// Terminated prints the termination reason.
func (p *Progress) Terminated(t Termination) {
	if p == nil || p.w == nil {
		return
	}
	style := p.better
	if !t.Normal() {
		style = p.fatal
	}
	fmt.Fprintln(p.w, p.label.Render("Terminated:"), style.Render(t.Reason))
}
