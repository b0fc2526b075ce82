package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/mattjoyce/synapse-bridge/internal/dashboard"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
)

type fakeAPI struct {
	mu         sync.Mutex
	logs       []orchestrator.LogEntry
	plugins    []orchestrator.PluginStatus
	pluginsErr error
	submitted  []string
	submitErr  error
	stops      int
	stopErr    error
}

func (f *fakeAPI) Logs(context.Context) ([]orchestrator.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs, nil
}

func (f *fakeAPI) Plugins(context.Context) ([]orchestrator.PluginStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plugins, f.pluginsErr
}

func (f *fakeAPI) Submit(_ context.Context, text string) (orchestrator.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return "1", f.submitErr
}

func (f *fakeAPI) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func newTestModel(t *testing.T, api *fakeAPI) Model {
	t.Helper()
	m := New(core.New(api, []string{"", "/ag", "/gcli", "/sys"}), "http://synapse.test/api", time.Second)
	clock := func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	m.now = clock
	m.spinner.now = clock
	return update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

// run executes a command and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	return update(t, m, cmd())
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func TestViewBeforeResize(t *testing.T) {
	m := New(core.New(&fakeAPI{}, nil), "http://x", 0)
	assert.Equal(t, "Connecting to Synapse...", m.View())
	assert.Equal(t, 2*time.Second, m.interval)
}

func TestRefreshRendersPanels(t *testing.T) {
	api := &fakeAPI{
		logs: []orchestrator.LogEntry{
			{ID: 1, CreatedAt: "2025-01-01T09:00:00", Status: "FAILED", CommandText: "/nope", ErrorMessage: "Unknown slash command/plugin."},
			{ID: 2, CreatedAt: "2025-01-01T10:00:00", Status: "DONE", PluginID: "gcli", CommandText: "/gcli build"},
		},
		plugins: []orchestrator.PluginStatus{
			{ID: "gcli", Name: "Gemini CLI", Status: "running", Progress: "40%", Message: "Compiling"},
			{ID: "system", Status: "idle"},
		},
	}
	m := newTestModel(t, api)
	m = run(t, m, m.refresh())

	view := m.View()
	assert.Contains(t, view, "SYNAPSE DASHBOARD")
	assert.Contains(t, view, "Gemini CLI")
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "idle")
	assert.Contains(t, view, "Ready")
	assert.Contains(t, view, "/gcli build")
	assert.Contains(t, view, "Unknown slash command/plugin.")
	assert.Less(t, strings.Index(view, "/nope"), strings.Index(view, "/gcli build"), "logs keep backend order")
	assert.Equal(t, int64(2), m.lastLog)
}

func TestStaleRefreshKeepsPlugins(t *testing.T) {
	api := &fakeAPI{plugins: []orchestrator.PluginStatus{{ID: "deals", Status: "idle"}}}
	m := newTestModel(t, api)
	m = run(t, m, m.refresh())

	api.mu.Lock()
	api.plugins = nil
	api.pluginsErr = errors.New("connection refused")
	api.mu.Unlock()

	m = run(t, m, m.refresh())
	view := m.View()
	assert.Contains(t, view, "deals")
	assert.Contains(t, view, "STALE")
	assert.NotContains(t, view, "connection refused")
}

func TestSendUsesSelectedPrefix(t *testing.T) {
	api := &fakeAPI{}
	m := newTestModel(t, api)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Contains(t, m.View(), "[/ag] >")

	m = typeText(t, m, "summarize inbox")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)

	assert.Equal(t, []string{"/ag summarize inbox"}, api.submitted)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), "Sent: /ag summarize inbox")
}

func TestSendSlashCommandIgnoresPrefix(t *testing.T) {
	api := &fakeAPI{}
	m := newTestModel(t, api)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Contains(t, m.View(), "[/sys] >")

	m = typeText(t, m, "/gcli status")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	run(t, m, cmd)

	assert.Equal(t, []string{"/gcli status"}, api.submitted)
}

func TestSendFailureShownInFooter(t *testing.T) {
	api := &fakeAPI{submitErr: errors.New("orchestrator down")}
	m := newTestModel(t, api)
	m = typeText(t, m, "/sys uptime")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)

	assert.Contains(t, m.View(), "Send failed: orchestrator down")
	assert.Equal(t, "/sys uptime", m.input.Value(), "input kept for retry")
}

func TestSendEmptyDoesNothing(t *testing.T) {
	api := &fakeAPI{}
	m := newTestModel(t, api)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)

	assert.Empty(t, api.submitted)
	assert.Empty(t, m.lastError)
	assert.Empty(t, m.notice)
}

func TestAbortShowsStopNotice(t *testing.T) {
	api := &fakeAPI{}
	m := newTestModel(t, api)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	m = run(t, m, cmd)

	assert.Equal(t, 1, api.stops)
	assert.Contains(t, m.View(), core.StopNotice)
}

func TestAbortFailure(t *testing.T) {
	api := &fakeAPI{stopErr: errors.New("timeout")}
	m := newTestModel(t, api)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	m = run(t, m, cmd)

	assert.Contains(t, m.View(), "Stop failed: timeout")
	assert.NotContains(t, m.View(), core.StopNotice)
}

func TestQuitKeys(t *testing.T) {
	m := newTestModel(t, &fakeAPI{})
	for _, k := range []tea.KeyMsg{{Type: tea.KeyCtrlC}, {Type: tea.KeyEsc}} {
		_, cmd := m.Update(k)
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	}
}

func TestLogViewportFollowsNewRows(t *testing.T) {
	api := &fakeAPI{}
	for i := range 100 {
		api.logs = append(api.logs, orchestrator.LogEntry{ID: int64(i + 1), Status: "DONE", CommandText: "/sys ping"})
	}
	m := newTestModel(t, api)
	m = run(t, m, m.refresh())
	assert.True(t, m.logs.AtBottom())
	assert.Positive(t, m.logs.Height)
}

func TestRefreshMsgReschedules(t *testing.T) {
	m := newTestModel(t, &fakeAPI{})
	_, cmd := m.Update(refreshMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
