package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Status is the lifecycle state reported by GET /task/{id}.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
	StatusNotFound Status = "NOT_FOUND"
)

// Terminal reports whether polling can stop on this status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ErrUnexpectedStatus is wrapped by every error caused by a non-200 reply.
var ErrUnexpectedStatus = errors.New("unexpected orchestrator status")

// TaskID is the orchestrator-assigned task identifier. Some orchestrator
// builds return it as a JSON number, others as a string.
type TaskID string

func (id *TaskID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode task id: %w", err)
		}
		*id = TaskID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode task id: %w", err)
	}
	*id = TaskID(n.String())
	return nil
}

func (id TaskID) String() string { return string(id) }

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Text string `json:"text"`
}

// CommandResponse is the body returned by POST /command.
type CommandResponse struct {
	Status string `json:"status,omitempty"`
	TaskID TaskID `json:"task_id"`
}

// TaskStatus is the body returned by GET /task/{id}.
type TaskStatus struct {
	ID     TaskID        `json:"id"`
	Status Status        `json:"status"`
	Result ResultPayload `json:"result"`
	Error  string        `json:"error"`
}

// LogEntry is one row of GET /logs.
type LogEntry struct {
	ID           int64  `json:"id"`
	CreatedAt    string `json:"created_at"`
	Status       string `json:"status"`
	PluginID     string `json:"plugin_id"`
	CommandText  string `json:"command_text"`
	ErrorMessage string `json:"error_message"`
}

// createdAtLayouts covers RFC 3339 and the naive ISO timestamps the
// orchestrator emits for rows without a zone.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Time parses CreatedAt. Naive timestamps are read as local time.
func (e LogEntry) Time() (time.Time, bool) {
	for _, layout := range createdAtLayouts {
		if t, err := time.ParseInLocation(layout, e.CreatedAt, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PluginStatus is one row of GET /plugins.
type PluginStatus struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress string `json:"progress"`
	Message  string `json:"message"`
}

// Running reports whether the plugin is busy.
func (p PluginStatus) Running() bool {
	return p.Status == "running"
}

// DisplayName falls back to the plugin id when the manifest has no name.
func (p PluginStatus) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return p.ID
	}
	return "?"
}

// apiError is returned for non-200 responses.
func apiError(op string, code int, body []byte) error {
	snippet := string(bytes.TrimSpace(body))
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	if snippet == "" {
		return fmt.Errorf("%s: %w: %s", op, ErrUnexpectedStatus, strconv.Itoa(code))
	}
	return fmt.Errorf("%s: %w: %d %s", op, ErrUnexpectedStatus, code, snippet)
}
