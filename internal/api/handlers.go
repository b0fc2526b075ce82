package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealthz handles GET /healthz (no auth). A logged-out session is
// reported as "degraded" since the bridge cannot recover on its own.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.bridge.Status()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Transport:     st.Transport,
		Connected:     st.Connected,
		LoggedOut:     st.LoggedOut,
		ActiveTasks:   st.ActiveTasks,
	}
	if st.LoggedOut {
		resp.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleTasks handles GET /tasks.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, TasksResponse{Tasks: s.bridge.ActiveTasks()})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
