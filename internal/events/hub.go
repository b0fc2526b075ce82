// Package events is the in-process feed behind the ops API /events stream.
package events

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge event types.
const (
	ConnectionOpen      = "connection.open"
	ConnectionClosed    = "connection.closed"
	ConnectionLoggedOut = "connection.logged_out"
	QRIssued            = "qr.issued"
	MessageReceived     = "message.received"
	MessageDuplicate    = "message.duplicate"
	TaskSubmitted       = "task.submitted"
	TaskSubmitFailed    = "task.submit_failed"
	TaskDone            = "task.done"
	TaskFailed          = "task.failed"
	TaskTimedOut        = "task.timed_out"
	TaskUnreachable     = "task.unreachable"
	TaskPollError       = "task.poll_error"
)

// Event is one entry on the feed. Data is the JSON encoding of the
// published value, or {} when it was nil or failed to encode.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the producer side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(string, any) {}

// Hub fans events out to live subscribers and keeps the most recent ones so
// a reconnecting client can catch up by last seen ID.
type Hub struct {
	seq atomic.Int64
	now func() time.Time
	max int

	mu      sync.Mutex
	backlog []Event
	subs    map[chan Event]struct{}
}

// NewHub returns a hub retaining up to backlog events (100 when <= 0).
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = 100
	}
	return &Hub{
		now:     time.Now,
		max:     backlog,
		backlog: make([]Event, 0, backlog),
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish stamps data with the next ID and delivers it. Events are dropped
// for subscribers whose buffer is full.
func (h *Hub) Publish(eventType string, data any) {
	ev := Event{
		ID:   h.seq.Add(1),
		Type: eventType,
		At:   h.now().UTC(),
		Data: encode(data),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.backlog) == h.max {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.max-1]
	}
	h.backlog = append(h.backlog, ev)

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func encode(data any) json.RawMessage {
	if data == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Subscribe registers a live listener. The returned func unsubscribes and
// closes the channel; calling it again is a no-op.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Since returns retained events newer than afterID, oldest first.
func (h *Hub) Since(afterID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := sort.Search(len(h.backlog), func(i int) bool {
		return h.backlog[i].ID > afterID
	})
	return slices.Clone(h.backlog[idx:])
}
