package cli

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// palette holds the colours used for command output.
var palette = struct {
	Accent  lipgloss.Color
	Muted   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}{
	Accent:  lipgloss.Color("#7C3AED"),
	Muted:   lipgloss.Color("#6C7086"),
	Success: lipgloss.Color("#A6E3A1"),
	Warning: lipgloss.Color("#F9E2AF"),
	Error:   lipgloss.Color("#F38BA8"),
}

// styler renders text with colour only when writing to a terminal.
type styler struct {
	colour bool
}

// newStyler inspects w. Buffers and pipes get plain text.
func newStyler(w io.Writer) styler {
	f, ok := w.(*os.File)
	return styler{colour: ok && term.IsTerminal(int(f.Fd()))}
}

func (s styler) render(style lipgloss.Style, text string) string {
	if !s.colour {
		return text
	}
	return style.Render(text)
}

func (s styler) title(text string) string {
	return s.render(lipgloss.NewStyle().Bold(true).Foreground(palette.Accent), text)
}

func (s styler) muted(text string) string {
	return s.render(lipgloss.NewStyle().Foreground(palette.Muted), text)
}

func (s styler) runStatus(status domain.RunStatus) string {
	switch status {
	case domain.RunCompleted:
		return s.render(lipgloss.NewStyle().Foreground(palette.Success), string(status))
	case domain.RunFailed:
		return s.render(lipgloss.NewStyle().Foreground(palette.Error), string(status))
	default:
		return s.render(lipgloss.NewStyle().Foreground(palette.Warning), string(status))
	}
}

func (s styler) attemptStatus(status domain.AttemptStatus) string {
	switch status {
	case domain.AttemptSuccess:
		return s.render(lipgloss.NewStyle().Foreground(palette.Success), string(status))
	case domain.AttemptError:
		return s.render(lipgloss.NewStyle().Foreground(palette.Error), string(status))
	default:
		return s.render(lipgloss.NewStyle().Foreground(palette.Warning), string(status))
	}
}

// table renders rows in aligned columns. Widths are measured with
// lipgloss.Width so styled cells line up with plain ones.
func (s styler) table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	header := make([]string, len(headers))
	for i, h := range headers {
		header[i] = s.title(pad(h, widths[i]))
	}
	b.WriteString(strings.TrimRight(strings.Join(header, "  "), " "))
	b.WriteString("\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if i < len(widths) {
				cell = pad(cell, widths[i])
			}
			cells[i] = cell
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
