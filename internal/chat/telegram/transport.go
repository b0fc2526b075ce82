// Package telegram is a chat transport for the Telegram Bot API using long
// polling. The update offset is kept in the session store so a restart does
// not replay already handled updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/chat"
)

const (
	Name = "telegram"

	offsetKey     = "offset"
	startCommand  = "/start"
	startGreeting = "Synapse Connected. Use /ag, /gcli, or /sys commands."
)

type Config struct {
	Token       string
	APIBase     string
	PollTimeout time.Duration
	Sessions    chat.SessionStore
}

type Transport struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	sendMu sync.Mutex
	botID  int64
}

// Option customizes a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.http = c }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Transport {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	t := &Transport{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		logger: logger.With("component", "transport", "transport", Name),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Name() string { return Name }

// Connect checks the token with getMe and starts long polling.
func (t *Transport) Connect(ctx context.Context) (<-chan chat.Event, error) {
	var me user
	if err := t.call(ctx, "getMe", nil, &me); err != nil {
		if errors.Is(err, errUnauthorized) {
			return nil, fmt.Errorf("%w: %v", chat.ErrLoggedOut, err)
		}
		return nil, err
	}
	t.botID = me.ID
	t.logger.Info("bot authenticated", "username", me.Username)

	offset := t.loadOffset(ctx)
	out := make(chan chat.Event, 16)
	go t.pollLoop(ctx, offset, out)
	return out, nil
}

func (t *Transport) loadOffset(ctx context.Context) int64 {
	if t.cfg.Sessions == nil {
		return 0
	}
	var offset int64
	if _, err := t.cfg.Sessions.Field(ctx, Name, offsetKey, &offset); err != nil {
		t.logger.Warn("could not load update offset", "error", err)
		return 0
	}
	return offset
}

func (t *Transport) saveOffset(ctx context.Context, offset int64) {
	if t.cfg.Sessions == nil {
		return
	}
	if err := t.cfg.Sessions.SetField(ctx, Name, offsetKey, offset); err != nil {
		t.logger.Warn("could not persist update offset", "offset", offset, "error", err)
	}
}

func (t *Transport) pollLoop(ctx context.Context, offset int64, out chan<- chat.Event) {
	defer close(out)

	emit := func(ev chat.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	if !emit(chat.Event{Kind: chat.EventConnected}) {
		return
	}

	req := getUpdatesRequest{
		Timeout:        int(t.cfg.PollTimeout / time.Second),
		AllowedUpdates: []string{"message", "edited_message"},
	}
	for {
		req.Offset = offset
		var updates []update
		err := t.call(ctx, "getUpdates", req, &updates)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				emit(chat.Event{Kind: chat.EventDisconnected, Reason: chat.ReasonClosed})
			case errors.Is(err, errUnauthorized):
				emit(chat.Event{Kind: chat.EventDisconnected, Reason: chat.ReasonLoggedOut, Err: err})
			default:
				emit(chat.Event{Kind: chat.EventDisconnected, Reason: chat.ReasonConnectionLost, Err: err})
			}
			return
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			msg, ok := t.translate(u)
			if !ok {
				continue
			}
			if t.isStart(msg) {
				if err := t.SendText(ctx, msg.Sender, startGreeting); err != nil {
					t.logger.Warn("failed to greet", "chat_id", string(msg.Sender), "error", err)
				}
				continue
			}
			if !emit(chat.Event{Kind: chat.EventMessage, Message: msg}) {
				return
			}
		}
		if len(updates) > 0 {
			t.saveOffset(ctx, offset)
		}
	}
}

// translate maps an update onto an inbound message. Edits are delivered as
// non-notify messages so they are never submitted.
func (t *Transport) translate(u update) (chat.IncomingMessage, bool) {
	m, notify := u.Message, true
	if m == nil {
		m, notify = u.EditedMessage, false
	}
	if m == nil {
		return chat.IncomingMessage{}, false
	}
	payload := chat.Payload{Conversation: m.Text, ImageCaption: m.Caption}
	return chat.IncomingMessage{
		Sender:     chat.Address(strconv.FormatInt(m.Chat.ID, 10)),
		MessageID:  strconv.FormatInt(m.MessageID, 10),
		Text:       payload.Text(),
		IsSelfSent: m.From != nil && t.botID != 0 && m.From.ID == t.botID,
		IsNotify:   notify,
	}, true
}

// isStart matches "/start" and "/start@botname" on live messages.
func (t *Transport) isStart(msg chat.IncomingMessage) bool {
	if !msg.IsNotify {
		return false
	}
	cmd, _, _ := strings.Cut(strings.TrimSpace(msg.Text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == startCommand
}

// SendText posts a text message to a chat id.
func (t *Transport) SendText(ctx context.Context, to chat.Address, text string) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.call(ctx, "sendMessage", sendMessageRequest{ChatID: string(to), Text: text}, nil)
}

// Close is a no-op; polling stops with the Connect context.
func (t *Transport) Close() error { return nil }
