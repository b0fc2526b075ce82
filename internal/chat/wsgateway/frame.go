package wsgateway

import "encoding/json"

// Frame types exchanged with the gateway sidecar.
const (
	FrameMessage    = "message"
	FrameConnection = "connection"
	FrameQR         = "qr"
	FrameCreds      = "creds"
	FrameResume     = "resume"
	FrameSend       = "send"
)

// Delivery values of an inbound message frame.
const (
	DeliveryNotify = "notify" // live message
	DeliveryAppend = "append" // history sync or replay
)

// Connection states and reasons reported by the gateway.
const (
	StateOpen       = "open"
	StateClose      = "close"
	ReasonLoggedOut = "logged_out"
)

// Frame is the single JSON envelope used in both directions; only the fields
// relevant to Type are set.
type Frame struct {
	Type string `json:"type"`

	// message
	ID           string `json:"id,omitempty"`
	From         string `json:"from,omitempty"`
	FromMe       bool   `json:"from_me,omitempty"`
	Delivery     string `json:"delivery,omitempty"`
	Conversation string `json:"conversation,omitempty"`
	ExtendedText string `json:"extended_text,omitempty"`
	ImageCaption string `json:"image_caption,omitempty"`

	// connection
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`

	// qr
	Code string `json:"code,omitempty"`

	// creds (inbound)
	Data json.RawMessage `json:"data,omitempty"`

	// resume
	Creds json.RawMessage `json:"creds,omitempty"`

	// send
	To   string `json:"to,omitempty"`
	Text string `json:"text,omitempty"`
}
