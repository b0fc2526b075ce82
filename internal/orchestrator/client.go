// Package orchestrator is a client for the Synapse command API: command
// submission, task status, logs, plugin heartbeats and the stop signal.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxBodyBytes = 4 << 20

// Client talks to the orchestrator HTTP API rooted at a base URL such as
// http://127.0.0.1:8000/api.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient creates a client. A zero timeout leaves requests bounded only by
// their context.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Submit posts text to /command and returns the task id assigned to it.
func (c *Client) Submit(ctx context.Context, text string) (TaskID, error) {
	var resp CommandResponse
	if err := c.do(ctx, http.MethodPost, "/command", CommandRequest{Text: text}, &resp); err != nil {
		return "", fmt.Errorf("submit command: %w", err)
	}
	if resp.TaskID == "" {
		return "", errors.New("submit command: response missing task_id")
	}
	return resp.TaskID, nil
}

// TaskStatus fetches /task/{id}.
func (c *Client) TaskStatus(ctx context.Context, id TaskID) (*TaskStatus, error) {
	var st TaskStatus
	if err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(string(id)), nil, &st); err != nil {
		return nil, fmt.Errorf("task status %s: %w", id, err)
	}
	return &st, nil
}

// Logs fetches the recent task log rows in backend order.
func (c *Client) Logs(ctx context.Context) ([]LogEntry, error) {
	var entries []LogEntry
	if err := c.do(ctx, http.MethodGet, "/logs", nil, &entries); err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}
	return entries, nil
}

// Plugins fetches plugin heartbeats.
func (c *Client) Plugins(ctx context.Context) ([]PluginStatus, error) {
	var plugins []PluginStatus
	if err := c.do(ctx, http.MethodGet, "/plugins", nil, &plugins); err != nil {
		return nil, fmt.Errorf("fetch plugins: %w", err)
	}
	return plugins, nil
}

// Stop asks the orchestrator to abort the active task. The response body
// is not interpreted.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/stop", nil, nil); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return apiError(method+" "+path, res.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
