// Package chat defines the boundary between the bridge and a chat transport.
// Transports own their protocol session; the bridge only sees normalized
// inbound messages, connection state changes and a SendText operation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotConnected is returned by SendText when no session is open.
	ErrNotConnected = errors.New("chat transport not connected")
	// ErrLoggedOut is returned by Connect when the stored session was revoked.
	ErrLoggedOut = errors.New("chat session logged out")
)

// CredentialsKey is the SessionStore key holding pairing credentials.
const CredentialsKey = "creds"

// Address is an opaque transport-specific recipient (a JID, a chat id...).
type Address string

// Payload carries the text-bearing fields of an inbound message. At most
// one is normally set, depending on the message kind.
type Payload struct {
	Conversation string // plain text message
	ExtendedText string // quoted or link-preview message
	ImageCaption string // caption attached to an image
}

// Text returns the first non-empty field in Conversation, ExtendedText,
// ImageCaption order.
func (p Payload) Text() string {
	switch {
	case p.Conversation != "":
		return p.Conversation
	case p.ExtendedText != "":
		return p.ExtendedText
	default:
		return p.ImageCaption
	}
}

// IncomingMessage is an inbound chat message after normalization.
type IncomingMessage struct {
	Sender     Address
	MessageID  string
	Text       string
	IsSelfSent bool
	// IsNotify is true for live deliveries and false for history
	// backfill, edits and other replays.
	IsNotify bool
}

// IsCommand reports whether the trimmed text starts with '/'.
func (m IncomingMessage) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.Text), "/")
}

// DisconnectReason classifies why a session ended.
type DisconnectReason string

const (
	// ReasonLoggedOut means credentials were revoked; re-pairing is needed.
	ReasonLoggedOut DisconnectReason = "logged_out"
	// ReasonConnectionLost covers network failures and remote closes.
	ReasonConnectionLost DisconnectReason = "connection_lost"
	// ReasonClosed means the local side closed the session.
	ReasonClosed DisconnectReason = "closed"
)

// EventKind discriminates Event.
type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventQR
	EventConnected
	EventDisconnected
	EventCredentials
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventQR:
		return "qr"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventCredentials:
		return "credentials"
	default:
		return "unknown"
	}
}

// Event is emitted by a transport on its event stream.
type Event struct {
	Kind    EventKind
	Message IncomingMessage  // EventMessage
	QRCode  string           // EventQR
	Reason  DisconnectReason // EventDisconnected
	Err     error
	// Credentials is an opaque JSON session blob the transport wants
	// persisted (EventCredentials).
	Credentials json.RawMessage
}

// Transport is a chat session provider.
//
// Connect opens a session and returns its event stream. The stream ends
// with exactly one EventDisconnected and is then closed. SendText must be
// safe for concurrent use.
type Transport interface {
	Name() string
	Connect(ctx context.Context) (<-chan Event, error)
	SendText(ctx context.Context, to Address, text string) error
	Close() error
}

// SessionStore persists small pieces of per-transport session state, such
// as pairing credentials or an update offset, across restarts.
type SessionStore interface {
	Field(ctx context.Context, transport, key string, out any) (bool, error)
	SetField(ctx context.Context, transport, key string, value any) error
}
