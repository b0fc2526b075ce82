// Package dashboard holds the terminal dashboard's state and actions,
// independent of rendering: periodic refresh of the orchestrator's logs and
// plugin status, command submission and the abort signal.
package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
)

// StopNotice is shown locally after an abort request.
const StopNotice = "Stop Signal Sent"

// ErrEmptyCommand is returned by Send when there is nothing to submit.
var ErrEmptyCommand = errors.New("empty command")

// Orchestrator is the subset of the orchestrator API the dashboard uses.
type Orchestrator interface {
	Logs(ctx context.Context) ([]orchestrator.LogEntry, error)
	Plugins(ctx context.Context) ([]orchestrator.PluginStatus, error)
	Submit(ctx context.Context, text string) (orchestrator.TaskID, error)
	Stop(ctx context.Context) error
}

// Snapshot is what the dashboard last managed to fetch. A panel whose fetch
// failed keeps its previous contents; the error is recorded but not shown
// in place of the data.
type Snapshot struct {
	Logs      []orchestrator.LogEntry
	Plugins   []orchestrator.PluginStatus
	LogsErr   error
	PluginErr error
	// UpdatedAt is the time of the last refresh attempt.
	UpdatedAt time.Time
}

// Stale reports whether the last refresh failed for any panel.
func (s Snapshot) Stale() bool { return s.LogsErr != nil || s.PluginErr != nil }

type Client struct {
	api      Orchestrator
	prefixes []string
	now      func() time.Time

	mu        sync.Mutex
	snap      Snapshot
	prefixIdx int
}

// New returns a Client. prefixes is the selectable command prefix list; an
// empty entry means "no prefix".
func New(api Orchestrator, prefixes []string) *Client {
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	return &Client{api: api, prefixes: prefixes, now: time.Now}
}

// Refresh fetches logs and plugins concurrently and returns the merged
// snapshot.
func (c *Client) Refresh(ctx context.Context) Snapshot {
	var (
		logs      []orchestrator.LogEntry
		plugins   []orchestrator.PluginStatus
		logsErr   error
		pluginErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logs, logsErr = c.api.Logs(gctx)
		return nil
	})
	g.Go(func() error {
		plugins, pluginErr = c.api.Plugins(gctx)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.LogsErr = logsErr
	if logsErr == nil {
		c.snap.Logs = logs
	}
	c.snap.PluginErr = pluginErr
	if pluginErr == nil {
		c.snap.Plugins = plugins
	}
	c.snap.UpdatedAt = c.now()
	return c.snap
}

// Snapshot returns the last refreshed state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Prefix returns the selected command prefix.
func (c *Client) Prefix() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefixes[c.prefixIdx]
}

// Prefixes returns the selectable prefixes.
func (c *Client) Prefixes() []string { return append([]string(nil), c.prefixes...) }

// CyclePrefix moves the selection by delta (wrapping) and returns it.
func (c *Client) CyclePrefix(delta int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.prefixes)
	c.prefixIdx = ((c.prefixIdx+delta)%n + n) % n
	return c.prefixes[c.prefixIdx]
}

// ComposeCommand builds the submitted text: the input is trimmed, and the
// prefix is prepended unless the input is already a slash command.
func ComposeCommand(prefix, text string) string {
	text = strings.TrimSpace(text)
	if prefix != "" && !strings.HasPrefix(text, "/") {
		return prefix + " " + text
	}
	return text
}

// Send submits text with the selected prefix and refreshes immediately. It
// returns the text that was submitted.
func (c *Client) Send(ctx context.Context, text string) (string, error) {
	cmd := ComposeCommand(c.Prefix(), text)
	if cmd == "" {
		return "", ErrEmptyCommand
	}
	if _, err := c.api.Submit(ctx, cmd); err != nil {
		return cmd, err
	}
	c.Refresh(ctx)
	return cmd, nil
}

// Abort asks the orchestrator to stop the active task.
func (c *Client) Abort(ctx context.Context) error {
	return c.api.Stop(ctx)
}
