package api

import (
	"bufio"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/events"
)

// sseStream writes server-sent events and flushes after every frame.
type sseStream struct {
	rc  *http.ResponseController
	buf *bufio.Writer
}

func newSSEStream(w http.ResponseWriter) *sseStream {
	return &sseStream{rc: http.NewResponseController(w), buf: bufio.NewWriter(w)}
}

func (s *sseStream) event(ev events.Event) error {
	s.buf.WriteString("id: ")
	s.buf.WriteString(strconv.FormatInt(ev.ID, 10))
	if ev.Type != "" {
		s.buf.WriteString("\nevent: ")
		s.buf.WriteString(ev.Type)
	}
	s.buf.WriteString("\ndata: ")
	s.buf.Write(ev.Data)
	s.buf.WriteString("\n\n")
	return s.flush()
}

func (s *sseStream) comment(text string) error {
	s.buf.WriteString(": " + text + "\n\n")
	return s.flush()
}

func (s *sseStream) flush() error {
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleEvents serves GET /events. Retained events newer than Last-Event-ID
// are replayed first, then live ones follow.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := newSSEStream(w)

	// Subscribed before the replay so nothing falls between the two.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	last := lastEventID(r)
	for _, ev := range s.events.Since(last) {
		if err := stream.event(ev); err != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
		last = ev.ID
	}
	if err := stream.flush(); err != nil {
		s.logger.Debug("event stream unsupported", "error", err)
		return
	}

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.ID <= last {
				continue
			}
			last = ev.ID
			err = stream.event(ev)
		case <-ping.C:
			err = stream.comment("keep-alive")
		}
		if err != nil {
			return
		}
	}
}

func lastEventID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
