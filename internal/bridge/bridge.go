// Package bridge relays qualifying chat messages to the orchestrator and
// starts one result poller per accepted task.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/chat"
	"github.com/mattjoyce/synapse-bridge/internal/events"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
	"github.com/mattjoyce/synapse-bridge/internal/poller"
)

//go:generate mockgen -destination=mocks/mock_bridge.go -package=mocks github.com/mattjoyce/synapse-bridge/internal/bridge Submitter,TaskPoller

const (
	ackFormat         = "Command Queued (Task %s)..."
	submitErrorFormat = "Error connecting to Synapse: %v"

	defaultReconnectDelay = 3 * time.Second
)

// Submitter hands command text to the orchestrator.
type Submitter interface {
	Submit(ctx context.Context, text string) (orchestrator.TaskID, error)
}

// TaskPoller follows a task to completion and delivers its outcome.
type TaskPoller interface {
	Poll(ctx context.Context, id orchestrator.TaskID, to chat.Address) poller.Outcome
}

// Status is a point-in-time view of the bridge.
type Status struct {
	Transport   string    `json:"transport"`
	Connected   bool      `json:"connected"`
	LoggedOut   bool      `json:"logged_out"`
	ActiveTasks int       `json:"active_tasks"`
	StartedAt   time.Time `json:"started_at"`
}

type Bridge struct {
	transport chat.Transport
	submitter Submitter
	poller    TaskPoller
	logger    *slog.Logger

	dedupe         *Deduper
	sessions       chat.SessionStore
	events         events.Publisher
	console        io.Writer
	reconnectDelay time.Duration
	now            func() time.Time

	tasks     *taskRegistry
	pollers   sync.WaitGroup
	startedAt time.Time
	connected atomic.Bool
	loggedOut atomic.Bool
}

// Option customizes a Bridge.
type Option func(*Bridge)

func WithDeduper(d *Deduper) Option { return func(b *Bridge) { b.dedupe = d } }

// WithSessionStore persists credentials announced by the transport.
func WithSessionStore(s chat.SessionStore) Option { return func(b *Bridge) { b.sessions = s } }

func WithEvents(pub events.Publisher) Option { return func(b *Bridge) { b.events = pub } }

// WithConsole sets where pairing QR codes are rendered.
func WithConsole(w io.Writer) Option { return func(b *Bridge) { b.console = w } }

func WithReconnectDelay(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.reconnectDelay = d
		}
	}
}

func New(transport chat.Transport, submitter Submitter, tp TaskPoller, logger *slog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		transport:      transport,
		submitter:      submitter,
		poller:         tp,
		logger:         logger.With("component", "bridge", "transport", transport.Name()),
		events:         events.Discard{},
		console:        io.Discard,
		reconnectDelay: defaultReconnectDelay,
		now:            time.Now,
		tasks:          newTaskRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.startedAt = b.now()
	return b
}

// Run keeps a transport session open until ctx is cancelled, reconnecting
// after every disconnect except a logout. After a logout Run stays blocked
// until ctx is cancelled so the rest of the process keeps serving.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		err := b.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if b.loggedOut.Load() {
			b.logger.Error("chat session logged out; re-pair the transport and restart the bridge")
			<-ctx.Done()
			return nil
		}
		if err != nil {
			b.logger.Warn("chat session ended", "error", err, "retry_in", b.reconnectDelay.String())
		} else {
			b.logger.Info("chat session ended", "retry_in", b.reconnectDelay.String())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.reconnectDelay):
		}
	}
}

// session runs one Connect and drains its event stream.
func (b *Bridge) session(ctx context.Context) error {
	stream, err := b.transport.Connect(ctx)
	if err != nil {
		if errors.Is(err, chat.ErrLoggedOut) {
			b.markLoggedOut()
		}
		return fmt.Errorf("connect %s: %w", b.transport.Name(), err)
	}

	for ev := range stream {
		switch ev.Kind {
		case chat.EventQR:
			b.logger.Info("pairing required, scan the QR code on the console")
			chat.RenderQR(b.console, ev.QRCode)
			b.events.Publish(events.QRIssued, nil)
		case chat.EventConnected:
			b.connected.Store(true)
			b.logger.Info("chat session open")
			b.events.Publish(events.ConnectionOpen, nil)
		case chat.EventCredentials:
			b.saveCredentials(ctx, ev.Credentials)
		case chat.EventMessage:
			b.HandleMessage(ctx, ev.Message)
		case chat.EventDisconnected:
			b.connected.Store(false)
			if ev.Reason == chat.ReasonLoggedOut {
				b.markLoggedOut()
			} else {
				b.events.Publish(events.ConnectionClosed, map[string]string{"reason": string(ev.Reason)})
			}
			if ev.Err != nil {
				err = ev.Err
			}
		}
	}
	b.connected.Store(false)
	return err
}

func (b *Bridge) markLoggedOut() {
	if b.loggedOut.Swap(true) {
		return
	}
	b.events.Publish(events.ConnectionLoggedOut, nil)
}

func (b *Bridge) saveCredentials(ctx context.Context, creds json.RawMessage) {
	if b.sessions == nil || len(creds) == 0 {
		return
	}
	if err := b.sessions.SetField(ctx, b.transport.Name(), chat.CredentialsKey, creds); err != nil {
		b.logger.Error("failed to persist session credentials", "error", err)
		return
	}
	b.logger.Debug("session credentials saved")
}

// HandleMessage submits a qualifying message and acknowledges it to the
// sender. Submission errors are reported to the sender and not retried.
func (b *Bridge) HandleMessage(ctx context.Context, msg chat.IncomingMessage) {
	if !Qualify(msg) {
		return
	}
	logger := b.logger.With("sender", string(msg.Sender), "message_id", msg.MessageID)
	if b.dedupe.Seen(string(msg.Sender), msg.MessageID) {
		logger.Debug("duplicate delivery dropped")
		b.events.Publish(events.MessageDuplicate, messageEvent{Sender: msg.Sender, MessageID: msg.MessageID})
		return
	}

	logger.Info("received command", "text", msg.Text)
	b.events.Publish(events.MessageReceived, messageEvent{Sender: msg.Sender, MessageID: msg.MessageID, Text: msg.Text})

	id, err := b.submitter.Submit(ctx, msg.Text)
	if err != nil {
		logger.Error("submit failed", "error", err)
		b.events.Publish(events.TaskSubmitFailed, messageEvent{Sender: msg.Sender, MessageID: msg.MessageID, Error: err.Error()})
		b.reply(ctx, logger, msg.Sender, fmt.Sprintf(submitErrorFormat, err))
		return
	}

	logger.Info("task queued", "task_id", id.String())
	b.events.Publish(events.TaskSubmitted, ActiveTask{TaskID: id, Recipient: msg.Sender, StartedAt: b.now().UTC()})
	b.reply(ctx, logger, msg.Sender, fmt.Sprintf(ackFormat, id))
	b.track(ctx, id, msg.Sender)
}

func (b *Bridge) reply(ctx context.Context, logger *slog.Logger, to chat.Address, text string) {
	if err := b.transport.SendText(ctx, to, text); err != nil {
		logger.Error("failed to send reply", "error", err)
	}
}

// track runs the task's poller in its own goroutine.
func (b *Bridge) track(ctx context.Context, id orchestrator.TaskID, to chat.Address) {
	b.tasks.add(ActiveTask{TaskID: id, Recipient: to, StartedAt: b.now().UTC()})
	b.pollers.Add(1)
	go func() {
		defer b.pollers.Done()
		defer b.tasks.remove(id)
		outcome := b.poller.Poll(ctx, id, to)
		b.logger.Debug("poller finished", "task_id", id.String(), "outcome", outcome.String())
	}()
}

// Wait blocks until every started poller has returned.
func (b *Bridge) Wait() { b.pollers.Wait() }

// ActiveTasks lists tasks still being polled, oldest first.
func (b *Bridge) ActiveTasks() []ActiveTask { return b.tasks.list() }

func (b *Bridge) Status() Status {
	return Status{
		Transport:   b.transport.Name(),
		Connected:   b.connected.Load(),
		LoggedOut:   b.loggedOut.Load(),
		ActiveTasks: b.tasks.len(),
		StartedAt:   b.startedAt,
	}
}

type messageEvent struct {
	Sender    chat.Address `json:"sender"`
	MessageID string       `json:"message_id,omitempty"`
	Text      string       `json:"text,omitempty"`
	Error     string       `json:"error,omitempty"`
}
