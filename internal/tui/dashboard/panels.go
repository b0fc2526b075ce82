package dashboard

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	core "github.com/mattjoyce/synapse-bridge/internal/dashboard"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
)

const cardWidth = 26

func renderPlugins(plugins []orchestrator.PluginStatus, theme Theme, width int) string {
	title := theme.Header.Render(" Plugins")
	if len(plugins) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  No plugins reported"))
	}

	perRow := max(1, (width-4)/(cardWidth+2))
	var rows []string
	for start := 0; start < len(plugins); start += perRow {
		end := min(start+perRow, len(plugins))
		cards := make([]string, 0, end-start)
		for _, p := range plugins[start:end] {
			cards = append(cards, renderCard(core.FormatPlugin(p), theme))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{title}, rows...)...)
}

func renderCard(c core.PluginCard, theme Theme) string {
	badge := theme.BadgeIdle.Render(c.Status)
	if c.Running {
		badge = theme.BadgeRunning.Render("running")
	}
	text := cardWidth - 4
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render(truncate(c.Name, text)),
		badge,
		theme.Progress.Render(truncate(c.Progress, text)),
		theme.Dim.Render(truncate(c.Message, text)),
	)
	return theme.Card.Width(cardWidth - 2).Render(content)
}

// renderLogLines formats log rows in the order the orchestrator returned them.
func renderLogLines(logs []orchestrator.LogEntry, theme Theme) string {
	if len(logs) == 0 {
		return theme.Dim.Render("No tasks yet")
	}
	lines := make([]string, 0, len(logs))
	for _, e := range logs {
		l := core.FormatLog(e)
		line := theme.Dim.Render("["+l.Time+"]") + " " +
			theme.StatusStyle(l.Status).Render(l.Status) + " " +
			theme.Highlight.Render(l.Plugin) + ": " + l.Command
		if l.Error != "" {
			line += " " + theme.StatusFailed.Render("("+l.Error+")")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
