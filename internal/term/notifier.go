package term

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/michaelbrown/codeshare/internal/protocol"
)

// Notifier prints notifications to a terminal.
type Notifier struct {
	w      io.Writer
	styles styles

	mu sync.Mutex
}

// NewNotifier writes to w, using color only when w is a terminal.
func NewNotifier(w io.Writer) *Notifier {
	return &Notifier{w: w, styles: newStyles(lipgloss.NewRenderer(w))}
}

// Notify shows a run outcome. The first line is the headline; the rest is
// captured output, indented.
func (n *Notifier) Notify(note protocol.Notification) {
	head, rest, _ := strings.Cut(note.Text, "\n")

	style := n.styles.success
	if note.IsError {
		style = n.styles.err
	}

	var b strings.Builder
	b.WriteString(style.Render(head))
	b.WriteByte('\n')
	if rest != "" {
		b.WriteString(n.styles.body.Render(rest))
		b.WriteByte('\n')
	}
	n.write(b.String())
}

// Info prints a muted status line.
func (n *Notifier) Info(format string, args ...any) {
	n.write(n.styles.muted.Render(fmt.Sprintf(format, args...)) + "\n")
}

// Warn prints a warning line.
func (n *Notifier) Warn(format string, args ...any) {
	n.write(n.styles.warning.Render(fmt.Sprintf(format, args...)) + "\n")
}

// Title prints a header line.
func (n *Notifier) Title(format string, args ...any) {
	n.write(n.styles.title.Render(fmt.Sprintf(format, args...)) + "\n")
}

// Command renders s as a command hint without printing it.
func (n *Notifier) Command(s string) string {
	return n.styles.cmd.Render(s)
}

func (n *Notifier) write(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	io.WriteString(n.w, s)
}
