// Package dashboard implements the Synapse terminal dashboard: plugin
// cards, the task log and a command line with a selectable prefix.
package dashboard

import "github.com/charmbracelet/lipgloss"

const (
	colorGreen  = lipgloss.Color("#00FF00")
	colorYellow = lipgloss.Color("#FFFF00")
	colorRed    = lipgloss.Color("#FF0000")
	colorGrey   = lipgloss.Color("#888888")
	colorSlate  = lipgloss.Color("#444444")
	colorBlue   = lipgloss.Color("#61AFEF")
	colorAmber  = lipgloss.Color("#E5C07B")
	colorPurple = lipgloss.Color("#874BFD")
)

// Theme holds every style the dashboard renders with.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style

	Border    lipgloss.Style
	Card      lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Help      lipgloss.Style

	BadgeRunning lipgloss.Style
	BadgeIdle    lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
	Progress       lipgloss.Style
}

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func NewDefaultTheme() Theme {
	rounded := lipgloss.NewStyle().Border(lipgloss.RoundedBorder())

	return Theme{
		StatusOK:      fg(colorGreen),
		StatusRunning: fg(colorYellow),
		StatusFailed:  fg(colorRed),
		StatusQueued:  fg(colorGrey),

		Border:    rounded.BorderForeground(colorPurple),
		Card:      rounded.BorderForeground(colorSlate).Padding(0, 1),
		Title:     fg(lipgloss.Color("#FAFAFA")).Bold(true),
		Header:    fg(colorBlue).Bold(true),
		Dim:       fg(colorGrey),
		Highlight: fg(colorAmber),
		Help:      fg(lipgloss.Color("241")),

		BadgeRunning: fg(lipgloss.Color("#1E1E1E")).Background(colorYellow).Bold(true).Padding(0, 1),
		BadgeIdle:    fg(lipgloss.Color("#AAAAAA")).Background(lipgloss.Color("#333333")).Padding(0, 1),

		TickerActive:   fg(colorGreen),
		TickerInactive: fg(colorSlate),
		Progress:       fg(colorBlue),
	}
}

// StatusStyle picks the color for a task log status.
func (t Theme) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "DONE":
		return t.StatusOK
	case "FAILED":
		return t.StatusFailed
	case "RUNNING":
		return t.StatusRunning
	default:
		return t.StatusQueued
	}
}
