// Package wsgateway is a chat transport backed by a WebSocket sidecar that
// owns the messaging-protocol session. The sidecar pushes inbound messages,
// pairing codes and connection changes as JSON frames and accepts send
// requests on the same socket.
package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/synapse-bridge/internal/chat"
)

const (
	Name = "wsgateway"

	writeTimeout = 10 * time.Second
)

type Config struct {
	URL       string
	Token     string
	PingEvery time.Duration
	// Sessions holds credentials replayed to the gateway on connect.
	Sessions chat.SessionStore
}

type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex // serializes writes and guards conn
	conn *websocket.Conn
}

func New(cfg Config, logger *slog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "transport", "transport", Name),
	}
}

func (t *Transport) Name() string { return Name }

// Connect dials the gateway, replays stored credentials and starts reading
// frames. The returned stream is closed after the session ends.
func (t *Transport) Connect(ctx context.Context) (<-chan chat.Event, error) {
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway %s: %w (status %d)", t.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway %s: %w", t.cfg.URL, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := t.resume(ctx); err != nil {
		t.dropConn(conn)
		return nil, err
	}

	out := make(chan chat.Event, 16)
	go t.readLoop(ctx, conn, out)
	return out, nil
}

// resume sends the stored credentials, or an empty resume to request pairing.
func (t *Transport) resume(ctx context.Context) error {
	frame := Frame{Type: FrameResume}
	if t.cfg.Sessions != nil {
		var creds json.RawMessage
		ok, err := t.cfg.Sessions.Field(ctx, Name, chat.CredentialsKey, &creds)
		if err != nil {
			t.logger.Warn("could not load stored credentials, requesting new pairing", "error", err)
		} else if ok {
			frame.Creds = creds
		}
	}
	if err := t.write(frame); err != nil {
		return fmt.Errorf("send resume: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- chat.Event) {
	defer close(out)
	defer t.dropConn(conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if t.cfg.PingEvery > 0 {
		deadline := func() { _ = conn.SetReadDeadline(time.Now().Add(2 * t.cfg.PingEvery)) }
		deadline()
		conn.SetPongHandler(func(string) error { deadline(); return nil })
		go t.pingLoop(conn, done)
	}

	emit := func(ev chat.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason := chat.ReasonConnectionLost
			if ctx.Err() != nil {
				reason, err = chat.ReasonClosed, nil
			}
			emit(chat.Event{Kind: chat.EventDisconnected, Reason: reason, Err: err})
			return
		}
		if t.cfg.PingEvery > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * t.cfg.PingEvery))
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		ev, end, ok := t.translate(f)
		if !ok {
			continue
		}
		if !emit(ev) || end {
			return
		}
	}
}

// translate maps a gateway frame onto a chat event. end is set when the
// frame closes the session.
func (t *Transport) translate(f Frame) (ev chat.Event, end, ok bool) {
	switch f.Type {
	case FrameMessage:
		payload := chat.Payload{Conversation: f.Conversation, ExtendedText: f.ExtendedText, ImageCaption: f.ImageCaption}
		return chat.Event{Kind: chat.EventMessage, Message: chat.IncomingMessage{
			Sender:     chat.Address(f.From),
			MessageID:  f.ID,
			Text:       payload.Text(),
			IsSelfSent: f.FromMe,
			IsNotify:   f.Delivery == DeliveryNotify,
		}}, false, true
	case FrameQR:
		return chat.Event{Kind: chat.EventQR, QRCode: f.Code}, false, f.Code != ""
	case FrameCreds:
		return chat.Event{Kind: chat.EventCredentials, Credentials: f.Data}, false, len(f.Data) > 0
	case FrameConnection:
		switch f.State {
		case StateOpen:
			return chat.Event{Kind: chat.EventConnected}, false, true
		case StateClose:
			ev := chat.Event{Kind: chat.EventDisconnected, Reason: chat.ReasonConnectionLost}
			if f.Reason == ReasonLoggedOut {
				ev.Reason = chat.ReasonLoggedOut
			}
			if f.Error != "" {
				ev.Err = errors.New(f.Error)
			}
			return ev, true, true
		}
	}
	t.logger.Debug("ignoring frame", "type", f.Type, "state", f.State)
	return chat.Event{}, false, false
}

func (t *Transport) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				t.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// SendText asks the gateway to deliver text to a chat address.
func (t *Transport) SendText(_ context.Context, to chat.Address, text string) error {
	return t.write(Frame{Type: FrameSend, ID: uuid.NewString(), To: string(to), Text: text})
}

func (t *Transport) write(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return chat.ErrNotConnected
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (t *Transport) dropConn(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

// Close ends the current session, if any.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}
