package dashboard

import (
	"strings"
	"time"
)

// Ticker rotates through frames on every refresh tick.
// A frozen ticker means the refresh loop has stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

const (
	spinnerDots = 5
	spinnerFade = 2 * time.Second
)

// Spinner lights all its dots when new log rows arrive and drops one for
// every two seconds of quiet.
type Spinner struct {
	dots     int
	lastSeen time.Time
	now      func() time.Time
}

func NewSpinner() Spinner {
	return Spinner{now: time.Now}
}

func (s *Spinner) OnActivity() {
	s.dots = spinnerDots
	s.lastSeen = s.now()
}

func (s *Spinner) Decay() {
	if s.dots == 0 {
		return
	}
	faded := int((s.now().Sub(s.lastSeen) - 1) / spinnerFade)
	s.dots = max(0, min(s.dots, spinnerDots-faded))
}

func (s Spinner) Render(theme Theme) string {
	lit := theme.TickerActive.Render("●")
	unlit := theme.TickerInactive.Render("○")
	return strings.Repeat(lit, s.dots) + strings.Repeat(unlit, spinnerDots-s.dots)
}

func (s Spinner) LastSeen() time.Time {
	return s.lastSeen
}
