package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/synapse-bridge/internal/chat"
	"github.com/mattjoyce/synapse-bridge/internal/events"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
	"github.com/mattjoyce/synapse-bridge/internal/poller/mocks"
)

const (
	testTask orchestrator.TaskID = "42"
	testUser chat.Address        = "15550001111@s.whatsapp.net"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func fastPolicy(maxAttempts, maxErrors int) Policy {
	return Policy{Interval: time.Millisecond, MaxAttempts: maxAttempts, MaxConsecutiveErrors: maxErrors}
}

func status(s orchestrator.Status, result orchestrator.ResultPayload, errText string) *orchestrator.TaskStatus {
	return &orchestrator.TaskStatus{ID: testTask, Status: s, Result: result, Error: errText}
}

type harness struct {
	fetcher *mocks.MockStatusFetcher
	sender  *mocks.MockSender
	files   *mocks.MockFileChecker
	logBuf  *TestLogBuffer
	hub     *events.Hub
}

func newHarness(t *testing.T) (*harness, func(Policy) *Poller) {
	ctrl := gomock.NewController(t)
	h := &harness{
		fetcher: mocks.NewMockStatusFetcher(ctrl),
		sender:  mocks.NewMockSender(ctrl),
		files:   mocks.NewMockFileChecker(ctrl),
		hub:     events.NewHub(32),
	}
	logger, buf := NewTestSlogger()
	h.logBuf = buf
	return h, func(p Policy) *Poller {
		return New(h.fetcher, h.sender, p, logger, WithFileChecker(h.files), WithEvents(h.hub))
	}
}

func (h *harness) eventTypes() []string {
	var out []string
	for _, ev := range h.hub.Since(0) {
		out = append(out, ev.Type)
	}
	return out
}

func TestPollDoneWithMessageAndFile(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).
		Return(status(orchestrator.StatusDone, orchestrator.TextPayload(`{"message":"hi","files":["a.txt"]}`), ""), nil)
	h.files.EXPECT().Exists("a.txt").Return(true)
	gomock.InOrder(
		h.sender.EXPECT().SendText(gomock.Any(), testUser, "hi").Return(nil),
		h.sender.EXPECT().SendText(gomock.Any(), testUser, "[File Generated: a.txt]").Return(nil),
	)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
	assert.Equal(t, []string{events.TaskDone}, h.eventTypes())
}

func TestPollDonePlainTextHasNoFiles(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).
		Return(status(orchestrator.StatusDone, orchestrator.TextPayload("plain text"), ""), nil)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "plain text").Return(nil)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
}

func TestPollDoneWithNullResultSendsNull(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	var st orchestrator.TaskStatus
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"status":"DONE","result":null}`), &st))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(&st, nil)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "null").Return(nil)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
}

func TestPollDoneWithoutResultFieldSendsNothing(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).
		Return(status(orchestrator.StatusDone, orchestrator.ResultPayload{}, ""), nil)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
}

func TestPollSkipsMissingFiles(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).
		Return(status(orchestrator.StatusDone, orchestrator.ObjectPayload(`{"message":"report","files":["gone.pdf","here.pdf"]}`), ""), nil)
	h.files.EXPECT().Exists("gone.pdf").Return(false)
	h.files.EXPECT().Exists("here.pdf").Return(true)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "report").Return(nil)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "[File Generated: here.pdf]").Return(nil)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
	assert.Contains(t, h.logBuf.String(), "result file not found")
}

func TestPollSendErrorDoesNotStopFileNotices(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).
		Return(status(orchestrator.StatusDone, orchestrator.ObjectPayload(`{"message":"m","files":["f.txt"]}`), ""), nil)
	h.files.EXPECT().Exists("f.txt").Return(true)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "m").Return(errors.New("socket closed"))
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "[File Generated: f.txt]").Return(nil)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
	assert.Contains(t, h.logBuf.String(), "failed to deliver task update")
}

func TestPollFailed(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	gomock.InOrder(
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(status(orchestrator.StatusQueued, orchestrator.ResultPayload{}, ""), nil),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(status(orchestrator.StatusRunning, orchestrator.ResultPayload{}, ""), nil),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(status(orchestrator.StatusFailed, orchestrator.ResultPayload{}, "boom"), nil),
	)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "Task Failed: boom").Return(nil)

	assert.Equal(t, OutcomeFailed, p.Poll(context.Background(), testTask, testUser))
	assert.Equal(t, []string{events.TaskFailed}, h.eventTypes())
}

func TestPollTimesOutAfterMaxAttempts(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(3, 0))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).
		Return(status(orchestrator.StatusRunning, orchestrator.ResultPayload{}, ""), nil).Times(3)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, TimedOutText).Return(nil).Times(1)

	assert.Equal(t, OutcomeTimedOut, p.Poll(context.Background(), testTask, testUser))
}

func TestPollNotFoundKeepsPolling(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(2, 0))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).
		Return(status(orchestrator.StatusNotFound, orchestrator.ResultPayload{}, ""), nil).Times(2)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, TimedOutText).Return(nil)

	assert.Equal(t, OutcomeTimedOut, p.Poll(context.Background(), testTask, testUser))
}

func TestPollErrorsAreSwallowedAndCountTowardsAttempts(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(3, 0))

	gomock.InOrder(
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(nil, errors.New("connection refused")),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(nil, errors.New("connection refused")),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(status(orchestrator.StatusRunning, orchestrator.ResultPayload{}, ""), nil),
	)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, TimedOutText).Return(nil)

	assert.Equal(t, OutcomeTimedOut, p.Poll(context.Background(), testTask, testUser))
	assert.Contains(t, h.logBuf.String(), "poll failed")
	assert.Equal(t, []string{events.TaskPollError, events.TaskPollError, events.TaskTimedOut}, h.eventTypes())
}

func TestPollRecoversAfterErrors(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 0))

	gomock.InOrder(
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(nil, errors.New("502 bad gateway")),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(status(orchestrator.StatusDone, orchestrator.TextPayload("ok"), ""), nil),
	)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "ok").Return(nil)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
}

func TestPollStopsAfterConsecutiveErrors(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 2))

	h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(nil, errors.New("dial tcp: refused")).Times(2)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "Task status unavailable: dial tcp: refused").Return(nil)

	assert.Equal(t, OutcomeUnreachable, p.Poll(context.Background(), testTask, testUser))
}

func TestPollConsecutiveErrorsResetOnSuccess(t *testing.T) {
	h, build := newHarness(t)
	p := build(fastPolicy(60, 2))

	gomock.InOrder(
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(nil, errors.New("refused")),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(status(orchestrator.StatusRunning, orchestrator.ResultPayload{}, ""), nil),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(nil, errors.New("refused")),
		h.fetcher.EXPECT().TaskStatus(gomock.Any(), testTask).Return(status(orchestrator.StatusDone, orchestrator.TextPayload("fine"), ""), nil),
	)
	h.sender.EXPECT().SendText(gomock.Any(), testUser, "fine").Return(nil)

	assert.Equal(t, OutcomeDone, p.Poll(context.Background(), testTask, testUser))
}

func TestPollCancelledDeliversNothing(t *testing.T) {
	h, build := newHarness(t)
	p := build(Policy{Interval: time.Hour, MaxAttempts: 60})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, OutcomeCancelled, p.Poll(ctx, testTask, testUser))
	assert.Empty(t, h.eventTypes())
}

func TestNewAppliesPolicyDefaults(t *testing.T) {
	logger, _ := NewTestSlogger()
	p := New(nil, nil, Policy{}, logger)
	assert.Equal(t, 2*time.Second, p.Policy().Interval)
	assert.Equal(t, 60, p.Policy().MaxAttempts)
	assert.Equal(t, 0, p.Policy().MaxConsecutiveErrors)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "timed_out", OutcomeTimedOut.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
}
