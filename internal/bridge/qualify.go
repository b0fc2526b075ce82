package bridge

import "github.com/mattjoyce/synapse-bridge/internal/chat"

// Qualify reports whether an inbound message should be submitted. Messages
// without text are ignored. Self-sent messages only qualify when they are
// commands, and history replays never do.
func Qualify(msg chat.IncomingMessage) bool {
	if msg.Text == "" {
		return false
	}
	return (!msg.IsSelfSent || msg.IsCommand()) && msg.IsNotify
}
