package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"harborguide/internal/domain"
)

var (
	cardStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	cardLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	cardValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	upStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	badgeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
)

// KPIStripTerminal lays the KPI cards out side by side. A non-empty reason
// is shown under the strip as a fallback badge.
func KPIStripTerminal(set domain.KPISet, reason string) string {
	cards := KPICards(set)
	boxes := make([]string, 0, len(cards))
	for _, c := range cards {
		delta := c.Delta
		switch c.Trend {
		case TrendUp:
			delta = upStyle.Render(delta)
		case TrendDown:
			delta = downStyle.Render(delta)
		}
		body := lipgloss.JoinVertical(lipgloss.Left,
			cardLabelStyle.Render(c.Label),
			cardValueStyle.Render(c.Value),
			delta,
		)
		boxes = append(boxes, cardStyle.Render(body))
	}
	out := lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
	if reason != "" {
		out += "\n" + badgeStyle.Render("offline data: "+reason)
	}
	return out
}

// TerminalMarkdown renders answer markdown for a terminal. style is a
// glamour style name; empty picks one from the terminal background.
func TerminalMarkdown(src string, width int, style string) (string, error) {
	opts := []glamour.TermRendererOption{}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", errors.Wrap(err, "render: create terminal renderer")
	}
	out, err := r.Render(src)
	if err != nil {
		return "", errors.Wrap(err, "render: markdown")
	}
	return strings.TrimRight(out, "\n") + "\n", nil
}
