package dashboard

import (
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
)

// LogLine is a log entry broken into display fields.
type LogLine struct {
	Time    string
	Status  string
	Plugin  string
	Command string
	Error   string
}

// FormatLog prepares a log entry for display. Timestamps are shown in local
// time; unparseable ones are shown verbatim.
func FormatLog(e orchestrator.LogEntry) LogLine {
	ts := e.CreatedAt
	if t, ok := e.Time(); ok {
		ts = t.In(time.Local).Format("15:04:05")
	}
	plugin := e.PluginID
	if plugin == "" {
		plugin = "?"
	}
	return LogLine{
		Time:    ts,
		Status:  string(e.Status),
		Plugin:  plugin,
		Command: e.CommandText,
		Error:   e.ErrorMessage,
	}
}

// String renders the line without styling.
func (l LogLine) String() string {
	s := "[" + l.Time + "] " + l.Status + " " + l.Plugin + ": " + l.Command
	if l.Error != "" {
		s += " (" + l.Error + ")"
	}
	return s
}

// PluginCard is a plugin status prepared for display.
type PluginCard struct {
	Name     string
	Status   string
	Running  bool
	Progress string
	Message  string
}

// FormatPlugin prepares a plugin status for display. Progress falls back to
// "Ready".
func FormatPlugin(p orchestrator.PluginStatus) PluginCard {
	progress := p.Progress
	if progress == "" {
		progress = "Ready"
	}
	return PluginCard{
		Name:     p.DisplayName(),
		Status:   p.Status,
		Running:  p.Running(),
		Progress: progress,
		Message:  p.Message,
	}
}
