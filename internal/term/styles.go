// Package term is the terminal surface of a participant: styled run
// notifications and a file that mirrors the shared document.
package term

import "github.com/charmbracelet/lipgloss"

// Color palette for dark terminal backgrounds.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
)

// styles are bound to one renderer so color detection follows the writer,
// not os.Stdout.
type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	err     lipgloss.Style
	warning lipgloss.Style
	body    lipgloss.Style
	cmd     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(ColorPrimary),
		muted:   r.NewStyle().Foreground(ColorMuted),
		success: r.NewStyle().Bold(true).Foreground(ColorSuccess),
		err:     r.NewStyle().Bold(true).Foreground(ColorError),
		warning: r.NewStyle().Foreground(ColorWarning),
		body:    r.NewStyle().PaddingLeft(2),
		cmd:     r.NewStyle().Foreground(ColorHighlight),
	}
}
