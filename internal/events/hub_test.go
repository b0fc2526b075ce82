package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBacklogKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TaskSubmitted, map[string]int{"n": i})
	}

	snap := h.Since(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)
	assert.JSONEq(t, `{"n":4}`, string(snap[2].Data))

	since := h.Since(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
}

func TestHubNilDataIsEmptyObject(t *testing.T) {
	h := NewHub(0)
	h.Publish(ConnectionOpen, nil)
	snap := h.Since(0)
	require.Len(t, snap, 1)
	assert.Equal(t, ConnectionOpen, snap[0].Type)
	assert.JSONEq(t, `{}`, string(snap[0].Data))
}

func TestHubSubscribeAndCancel(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(TaskDone, map[string]string{"task_id": "7"})
	ev := <-ch
	assert.Equal(t, TaskDone, ev.Type)

	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is harmless.
	cancel()
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		h.Publish(TaskPollError, nil)
	}
	assert.Len(t, h.Since(0), 10)
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	p.Publish(TaskDone, nil)
}
