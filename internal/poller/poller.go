// Package poller follows one submitted task until it reaches a terminal
// state, the attempt budget runs out, or the process shuts down, and relays
// the outcome to the chat sender.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/chat"
	"github.com/mattjoyce/synapse-bridge/internal/config"
	"github.com/mattjoyce/synapse-bridge/internal/events"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
)

//go:generate mockgen -destination=mocks/mock_poller.go -package=mocks github.com/mattjoyce/synapse-bridge/internal/poller StatusFetcher,Sender,FileChecker

// Texts delivered to the chat sender.
const (
	TimedOutText      = "Task timed out."
	failedFormat      = "Task Failed: %s"
	fileFormat        = "[File Generated: %s]"
	unreachableFormat = "Task status unavailable: %v"
)

// StatusFetcher reads a task's current status from the orchestrator.
type StatusFetcher interface {
	TaskStatus(ctx context.Context, id orchestrator.TaskID) (*orchestrator.TaskStatus, error)
}

// Sender delivers text to a chat recipient.
type Sender interface {
	SendText(ctx context.Context, to chat.Address, text string) error
}

// FileChecker decides whether a reported result file can be announced.
type FileChecker interface {
	Exists(path string) bool
}

// FileCheckerFunc adapts a function to FileChecker.
type FileCheckerFunc func(path string) bool

func (f FileCheckerFunc) Exists(path string) bool { return f(path) }

// LocalFiles checks paths against the bridge host's filesystem.
var LocalFiles FileChecker = FileCheckerFunc(func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
})

// Policy bounds how long a task is followed.
type Policy struct {
	Interval             time.Duration
	MaxAttempts          int
	MaxConsecutiveErrors int // 0 disables the early stop
}

// PolicyFromConfig maps the poller config section onto a Policy.
func PolicyFromConfig(cfg config.PollerConfig) Policy {
	return Policy{
		Interval:             cfg.Interval,
		MaxAttempts:          cfg.MaxAttempts,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	}
}

// Outcome is how a Poll ended.
type Outcome int

const (
	OutcomeCancelled Outcome = iota
	OutcomeDone
	OutcomeFailed
	OutcomeTimedOut
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "cancelled"
	}
}

// Poller is shared by all tasks; each Poll call keeps its own counters.
type Poller struct {
	fetcher StatusFetcher
	sender  Sender
	files   FileChecker
	policy  Policy
	events  events.Publisher
	logger  *slog.Logger
}

// Option customizes a Poller.
type Option func(*Poller)

// WithFileChecker replaces the local filesystem check for result files.
func WithFileChecker(fc FileChecker) Option {
	return func(p *Poller) { p.files = fc }
}

// WithEvents publishes task lifecycle events.
func WithEvents(pub events.Publisher) Option {
	return func(p *Poller) { p.events = pub }
}

func New(fetcher StatusFetcher, sender Sender, policy Policy, logger *slog.Logger, opts ...Option) *Poller {
	if policy.Interval <= 0 {
		policy.Interval = 2 * time.Second
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 60
	}
	p := &Poller{
		fetcher: fetcher,
		sender:  sender,
		files:   LocalFiles,
		policy:  policy,
		events:  events.Discard{},
		logger:  logger.With("component", "poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the effective polling policy.
func (p *Poller) Policy() Policy { return p.policy }

// Poll blocks until the task identified by id resolves and its outcome has
// been delivered to `to`. Cancelling ctx stops polling without delivery.
func (p *Poller) Poll(ctx context.Context, id orchestrator.TaskID, to chat.Address) Outcome {
	logger := p.logger.With("task_id", id.String())
	ticker := time.NewTicker(p.policy.Interval)
	defer ticker.Stop()

	attempt := 0
	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug("polling cancelled", "attempt", attempt)
			return OutcomeCancelled
		case <-ticker.C:
		}

		attempt++
		if attempt > p.policy.MaxAttempts {
			logger.Warn("task timed out", "attempts", p.policy.MaxAttempts)
			p.deliver(ctx, logger, to, TimedOutText)
			p.events.Publish(events.TaskTimedOut, taskEvent{TaskID: id, Recipient: to})
			return OutcomeTimedOut
		}

		st, err := p.fetcher.TaskStatus(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled
			}
			consecutiveErrors++
			logger.Warn("poll failed", "attempt", attempt, "consecutive_errors", consecutiveErrors, "error", err)
			p.events.Publish(events.TaskPollError, taskEvent{TaskID: id, Recipient: to, Attempt: attempt, Error: err.Error()})
			if p.policy.MaxConsecutiveErrors > 0 && consecutiveErrors >= p.policy.MaxConsecutiveErrors {
				p.deliver(ctx, logger, to, fmt.Sprintf(unreachableFormat, err))
				p.events.Publish(events.TaskUnreachable, taskEvent{TaskID: id, Recipient: to, Attempt: attempt, Error: err.Error()})
				return OutcomeUnreachable
			}
			continue
		}
		consecutiveErrors = 0

		switch st.Status {
		case orchestrator.StatusDone:
			res := orchestrator.Normalize(st.Result)
			logger.Info("task done", "attempt", attempt, "files", len(res.Files))
			if res.Message != "" {
				p.deliver(ctx, logger, to, res.Message)
			}
			for _, f := range res.Files {
				if !p.files.Exists(f) {
					logger.Debug("result file not found, skipping", "path", f)
					continue
				}
				p.deliver(ctx, logger, to, fmt.Sprintf(fileFormat, f))
			}
			p.events.Publish(events.TaskDone, taskEvent{TaskID: id, Recipient: to, Attempt: attempt})
			return OutcomeDone
		case orchestrator.StatusFailed:
			logger.Info("task failed", "attempt", attempt, "error", st.Error)
			p.deliver(ctx, logger, to, fmt.Sprintf(failedFormat, st.Error))
			p.events.Publish(events.TaskFailed, taskEvent{TaskID: id, Recipient: to, Attempt: attempt, Error: st.Error})
			return OutcomeFailed
		default:
			logger.Debug("task pending", "attempt", attempt, "status", string(st.Status))
		}
	}
}

// deliver logs send failures; later sends are still attempted.
func (p *Poller) deliver(ctx context.Context, logger *slog.Logger, to chat.Address, text string) {
	if err := p.sender.SendText(ctx, to, text); err != nil {
		logger.Error("failed to deliver task update", "recipient", string(to), "error", err)
	}
}

type taskEvent struct {
	TaskID    orchestrator.TaskID `json:"task_id"`
	Recipient chat.Address        `json:"recipient"`
	Attempt   int                 `json:"attempt,omitempty"`
	Error     string              `json:"error,omitempty"`
}
