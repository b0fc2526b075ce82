package api

import "github.com/mattjoyce/synapse-bridge/internal/bridge"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Transport     string `json:"transport"`
	Connected     bool   `json:"connected"`
	LoggedOut     bool   `json:"logged_out"`
	ActiveTasks   int    `json:"active_tasks"`
}

// TasksResponse is returned by GET /tasks.
type TasksResponse struct {
	Tasks []bridge.ActiveTask `json:"tasks"`
}
