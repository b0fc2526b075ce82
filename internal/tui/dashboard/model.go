package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	core "github.com/mattjoyce/synapse-bridge/internal/dashboard"
)

// requestTimeout bounds each refresh, send and abort round-trip.
const requestTimeout = 10 * time.Second

type (
	tickMsg     time.Time
	refreshMsg  time.Time
	snapshotMsg core.Snapshot
	sentMsg     struct {
		text string
		err  error
	}
	abortedMsg struct{ err error }
)

// Model is the BubbleTea model for the dashboard.
type Model struct {
	client   *core.Client
	apiURL   string
	interval time.Duration
	now      func() time.Time

	width  int
	height int

	snap    core.Snapshot
	lastLog int64

	input textinput.Model
	logs  viewport.Model

	ticker  Ticker
	spinner Spinner
	theme   Theme

	notice    string
	lastError string
}

// New creates a dashboard model refreshing every interval.
func New(client *core.Client, apiURL string, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ti := textinput.New()
	ti.Placeholder = "Type a command..."
	ti.CharLimit = 1024
	ti.Focus()

	var vp viewport.Model
	vp.KeyMap = viewport.KeyMap{
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
	}

	return Model{
		client:   client,
		apiURL:   apiURL,
		interval: interval,
		now:      time.Now,
		input:    ti,
		logs:     vp,
		ticker:   NewTicker(),
		spinner:  NewSpinner(),
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.refresh(),
		m.scheduleRefresh(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m, m.send(m.input.Value())
		case "tab":
			m.client.CyclePrefix(1)
			m.layout()
			return m, nil
		case "shift+tab":
			m.client.CyclePrefix(-1)
			m.layout()
			return m, nil
		case "ctrl+x":
			return m, m.abort()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.logs, cmd = m.logs.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case refreshMsg:
		return m, tea.Batch(m.refresh(), m.scheduleRefresh())

	case snapshotMsg:
		m.apply(core.Snapshot(msg))
		return m, nil

	case sentMsg:
		switch {
		case errors.Is(msg.err, core.ErrEmptyCommand):
		case msg.err != nil:
			m.lastError = fmt.Sprintf("Send failed: %v", msg.err)
		default:
			m.input.Reset()
			m.notice = "Sent: " + msg.text
			m.lastError = ""
			m.apply(m.client.Snapshot())
		}
		return m, nil

	case abortedMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("Stop failed: %v", msg.err)
			return m, nil
		}
		m.notice = core.StopNotice
		m.lastError = ""
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// apply installs a snapshot and keeps the log view pinned to the newest row.
func (m *Model) apply(snap core.Snapshot) {
	m.snap = snap
	if n := len(snap.Logs); n > 0 {
		if newest := snap.Logs[n-1].ID; newest != m.lastLog {
			m.lastLog = newest
			m.spinner.OnActivity()
		}
	}
	m.logs.SetContent(renderLogLines(snap.Logs, m.theme))
	m.layout()
	m.logs.GotoBottom()
}

// layout sizes the log viewport to whatever the other panels leave free.
func (m *Model) layout() {
	if m.width == 0 {
		return
	}
	prompt := m.promptLabel()
	m.input.Width = max(10, m.width-10-lipgloss.Width(prompt))

	fixed := lipgloss.Height(renderHeader(m.apiURL, m.snap, m.ticker, m.spinner, m.theme, m.width, m.now())) +
		lipgloss.Height(renderPlugins(m.snap.Plugins, m.theme, m.width)) +
		3 + // log border and title
		3 + // command line, footer and help
		2 // outer margin
	m.logs.Width = m.width - 8
	m.logs.Height = max(3, m.height-fixed)
}

func (m Model) promptLabel() string {
	prefix := m.client.Prefix()
	if prefix == "" {
		prefix = "(none)"
	}
	return "[" + prefix + "] > "
}

func (m Model) refresh() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return snapshotMsg(client.Refresh(ctx))
	}
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) send(text string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		sent, err := client.Send(ctx, text)
		return sentMsg{text: sent, err: err}
	}
}

func (m Model) abort() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return abortedMsg{err: client.Abort(ctx)}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to Synapse..."
	}

	header := renderHeader(m.apiURL, m.snap, m.ticker, m.spinner, m.theme, m.width, m.now())
	plugins := renderPlugins(m.snap.Plugins, m.theme, m.width)
	logs := m.theme.Border.Width(m.width - 6).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Header.Render("Task Log"), m.logs.View()),
	)
	command := m.theme.Highlight.Render(m.promptLabel()) + m.input.View()

	footer := m.theme.Dim.Render(" " + m.notice)
	if m.lastError != "" {
		footer = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Help.Render(" [enter] Send • [tab] Prefix • [ctrl+x] Stop task • [pgup/pgdn] Scroll • [esc] Quit")

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, plugins, logs, command, footer, help),
	)
}
