package display

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	Red    = lipgloss.Color("#EF4444")
	Yellow = lipgloss.Color("#F59E0B")
	Green  = lipgloss.Color("#22C55E")
	Cyan   = lipgloss.Color("#06B6D4")
)

type styles struct {
	title    lipgloss.Style
	section  lipgloss.Style
	critical lipgloss.Style
	warning  lipgloss.Style
	normal   lipgloss.Style
}

// newStyles binds styles to w so colour is only emitted when w is a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:    r.NewStyle().Bold(true).Foreground(Cyan),
		section:  r.NewStyle().Bold(true),
		critical: r.NewStyle().Foreground(Red).Bold(true),
		warning:  r.NewStyle().Foreground(Yellow).Bold(true),
		normal:   r.NewStyle().Foreground(Green),
	}
}

// status renders [CRITICAL], [WARNING] or [NORMAL] for value against the two thresholds.
func (s styles) status(value, warning, critical float64) string {
	switch {
	case value >= critical:
		return s.critical.Render("[CRITICAL]")
	case value >= warning:
		return s.warning.Render("[WARNING]")
	default:
		return s.normal.Render("[NORMAL]")
	}
}
