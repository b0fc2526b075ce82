package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/synapse-bridge/internal/chat"
)

// gateway is a scripted sidecar: it records the frames it receives and
// lets the test push frames to the connected client.
type gateway struct {
	t        *testing.T
	srv      *httptest.Server
	conns    chan *websocket.Conn
	authSeen chan string
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	g := &gateway{t: t, conns: make(chan *websocket.Conn, 1), authSeen: make(chan string, 1)}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.authSeen <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		g.conns <- conn
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gateway) url() string { return "ws" + strings.TrimPrefix(g.srv.URL, "http") }

func (g *gateway) accept() *websocket.Conn {
	g.t.Helper()
	select {
	case c := <-g.conns:
		g.t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		g.t.Fatal("gateway: no connection")
		return nil
	}
}

func readFrame(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	require.NoError(t, c.ReadJSON(&f))
	return f
}

func nextEvent(t *testing.T, ch <-chan chat.Event) chat.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return chat.Event{}
	}
}

type memSessions struct {
	mu     sync.Mutex
	fields map[string]json.RawMessage
}

func (m *memSessions) Field(_ context.Context, transport, key string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.fields[transport+"/"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *memSessions) SetField(_ context.Context, transport, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fields == nil {
		m.fields = map[string]json.RawMessage{}
	}
	m.fields[transport+"/"+key] = b
	return nil
}

func TestConnectSendsResumeWithStoredCreds(t *testing.T) {
	g := newGateway(t)
	sessions := &memSessions{}
	require.NoError(t, sessions.SetField(context.Background(), Name, chat.CredentialsKey, json.RawMessage(`{"me":"bot"}`)))

	tr := New(Config{URL: g.url(), Token: "s3cret", Sessions: sessions}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := tr.Connect(ctx)
	require.NoError(t, err)
	server := g.accept()

	assert.Equal(t, "Bearer s3cret", <-g.authSeen)
	f := readFrame(t, server)
	assert.Equal(t, FrameResume, f.Type)
	assert.JSONEq(t, `{"me":"bot"}`, string(f.Creds))
}

func TestInboundFramesBecomeEvents(t *testing.T) {
	g := newGateway(t)
	tr := New(Config{URL: g.url()}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := tr.Connect(ctx)
	require.NoError(t, err)
	server := g.accept()
	resume := readFrame(t, server)
	assert.Empty(t, resume.Creds)

	frames := []Frame{
		{Type: FrameQR, Code: "2@pair"},
		{Type: FrameCreds, Data: json.RawMessage(`{"k":1}`)},
		{Type: FrameConnection, State: StateOpen},
		{Type: "presence"},
		{Type: FrameMessage, ID: "ABC", From: "123@s.whatsapp.net", Delivery: DeliveryNotify, ImageCaption: "/sys status"},
		{Type: FrameMessage, ID: "DEF", From: "me@s.whatsapp.net", FromMe: true, Delivery: DeliveryAppend, Conversation: "old"},
	}
	for _, f := range frames {
		require.NoError(t, server.WriteJSON(f))
	}

	ev := nextEvent(t, stream)
	assert.Equal(t, chat.EventQR, ev.Kind)
	assert.Equal(t, "2@pair", ev.QRCode)

	ev = nextEvent(t, stream)
	assert.Equal(t, chat.EventCredentials, ev.Kind)
	assert.JSONEq(t, `{"k":1}`, string(ev.Credentials))

	assert.Equal(t, chat.EventConnected, nextEvent(t, stream).Kind)

	ev = nextEvent(t, stream)
	require.Equal(t, chat.EventMessage, ev.Kind)
	assert.Equal(t, chat.IncomingMessage{
		Sender:    "123@s.whatsapp.net",
		MessageID: "ABC",
		Text:      "/sys status",
		IsNotify:  true,
	}, ev.Message)

	ev = nextEvent(t, stream)
	assert.True(t, ev.Message.IsSelfSent)
	assert.False(t, ev.Message.IsNotify)
	assert.Equal(t, "old", ev.Message.Text)
}

func TestSendTextWritesSendFrame(t *testing.T) {
	g := newGateway(t)
	tr := New(Config{URL: g.url()}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := tr.Connect(ctx)
	require.NoError(t, err)
	server := g.accept()
	readFrame(t, server)

	require.NoError(t, tr.SendText(ctx, "123@s.whatsapp.net", "Command Queued (Task 1)..."))
	f := readFrame(t, server)
	assert.Equal(t, FrameSend, f.Type)
	assert.Equal(t, "123@s.whatsapp.net", f.To)
	assert.Equal(t, "Command Queued (Task 1)...", f.Text)
	assert.NotEmpty(t, f.ID)
}

func TestSendTextWithoutSession(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:1/ws"}, slog.Default())
	err := tr.SendText(context.Background(), "x", "y")
	assert.True(t, errors.Is(err, chat.ErrNotConnected))
}

func TestLoggedOutFrameEndsStream(t *testing.T) {
	g := newGateway(t)
	tr := New(Config{URL: g.url()}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := tr.Connect(ctx)
	require.NoError(t, err)
	server := g.accept()
	readFrame(t, server)

	require.NoError(t, server.WriteJSON(Frame{Type: FrameConnection, State: StateClose, Reason: ReasonLoggedOut}))
	ev := nextEvent(t, stream)
	assert.Equal(t, chat.EventDisconnected, ev.Kind)
	assert.Equal(t, chat.ReasonLoggedOut, ev.Reason)

	_, open := <-stream
	assert.False(t, open)
	assert.True(t, errors.Is(tr.SendText(ctx, "x", "y"), chat.ErrNotConnected))
}

func TestServerCloseIsConnectionLost(t *testing.T) {
	g := newGateway(t)
	tr := New(Config{URL: g.url()}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := tr.Connect(ctx)
	require.NoError(t, err)
	server := g.accept()
	readFrame(t, server)
	_ = server.Close()

	ev := nextEvent(t, stream)
	assert.Equal(t, chat.EventDisconnected, ev.Kind)
	assert.Equal(t, chat.ReasonConnectionLost, ev.Reason)
	assert.Error(t, ev.Err)
}

func TestConnectDialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	tr := New(Config{URL: url}, slog.Default())
	_, err := tr.Connect(context.Background())
	assert.Error(t, err)
}
