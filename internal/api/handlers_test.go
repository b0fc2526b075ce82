package api

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/synapse-bridge/internal/bridge"
	"github.com/mattjoyce/synapse-bridge/internal/events"
)

type stubBridge struct {
	status bridge.Status
	tasks  []bridge.ActiveTask
}

func (s *stubBridge) Status() bridge.Status            { return s.status }
func (s *stubBridge) ActiveTasks() []bridge.ActiveTask { return s.tasks }

func newTestServer(apiKey string, b *stubBridge) (*Server, *events.Hub) {
	hub := events.NewHub(16)
	return New(Config{Listen: "127.0.0.1:0", APIKey: apiKey}, b, hub, slog.Default()), hub
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer("secret", &stubBridge{status: bridge.Status{Transport: "wsgateway", Connected: true, ActiveTasks: 2}})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "wsgateway", resp.Transport)
	assert.True(t, resp.Connected)
	assert.Equal(t, 2, resp.ActiveTasks)
}

func TestHealthzDegradedWhenLoggedOut(t *testing.T) {
	s, _ := newTestServer("", &stubBridge{status: bridge.Status{Transport: "telegram", LoggedOut: true}})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.True(t, resp.LoggedOut)
}

func TestTasksRequiresKey(t *testing.T) {
	started := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	s, _ := newTestServer("secret", &stubBridge{tasks: []bridge.ActiveTask{{TaskID: "5", Recipient: "alice", StartedAt: started}}})
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"tasks":[{"task_id":"5","recipient":"alice","started_at":"2025-01-01T09:00:00Z"}]}`, rr.Body.String())
}

func TestTasksOpenWithoutKey(t *testing.T) {
	s, _ := newTestServer("", &stubBridge{})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"tasks":null}`, rr.Body.String())
}

func TestEventsReplayAndStream(t *testing.T) {
	s, hub := newTestServer("", &stubBridge{})
	hub.Publish(events.ConnectionOpen, nil)
	hub.Publish(events.TaskSubmitted, map[string]string{"task_id": "1"})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	assert.Equal(t, []string{"id: 2", "event: task.submitted", `data: {"task_id":"1"}`}, readEvent())

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(events.TaskDone, map[string]string{"task_id": "1"})
	assert.Equal(t, []string{"id: 3", "event: task.done", `data: {"task_id":"1"}`}, readEvent())
}

func TestLastEventID(t *testing.T) {
	for header, want := range map[string]int64{"": 0, "abc": 0, "-4": 0, "12": 12} {
		r := httptest.NewRequest(http.MethodGet, "/events", nil)
		r.Header.Set("Last-Event-ID", header)
		assert.Equal(t, want, lastEventID(r), header)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer("", &stubBridge{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
