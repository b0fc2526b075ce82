package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	core "github.com/mattjoyce/synapse-bridge/internal/dashboard"
)

func renderHeader(apiURL string, snap core.Snapshot, ticker Ticker, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 6

	statusText := theme.StatusOK.Render("LIVE")
	statusIcon := "✅"
	switch {
	case snap.UpdatedAt.IsZero():
		statusText = theme.StatusQueued.Render("CONNECTING")
		statusIcon = "🔌"
	case snap.Stale():
		statusText = theme.StatusFailed.Render("STALE")
		statusIcon = "⚠️"
	}

	running := 0
	for _, p := range snap.Plugins {
		if p.Running() {
			running++
		}
	}

	lastStr := "never"
	if !spinner.LastSeen().IsZero() {
		lastStr = fmt.Sprintf("%s ago", now.Sub(spinner.LastSeen()).Round(time.Second))
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" %s %s", theme.Title.Render("SYNAPSE DASHBOARD"), tickerStr)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 2
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  Plugins: %d  Running: %d  Logs: %d  %s",
		statusIcon, statusText,
		len(snap.Plugins),
		running,
		len(snap.Logs),
		theme.Dim.Render(apiURL),
	)

	activityLine := fmt.Sprintf(" Last activity: %s %s", lastStr, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}
