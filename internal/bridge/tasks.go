package bridge

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/chat"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
)

// ActiveTask is a submitted task whose poller has not finished yet.
type ActiveTask struct {
	TaskID    orchestrator.TaskID `json:"task_id"`
	Recipient chat.Address        `json:"recipient"`
	StartedAt time.Time           `json:"started_at"`
}

type taskRegistry struct {
	mu    sync.Mutex
	tasks map[orchestrator.TaskID]ActiveTask
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[orchestrator.TaskID]ActiveTask)}
}

func (r *taskRegistry) add(t ActiveTask) {
	r.mu.Lock()
	r.tasks[t.TaskID] = t
	r.mu.Unlock()
}

func (r *taskRegistry) remove(id orchestrator.TaskID) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

func (r *taskRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// list returns the active tasks, oldest first.
func (r *taskRegistry) list() []ActiveTask {
	r.mu.Lock()
	out := make([]ActiveTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b ActiveTask) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})
	return out
}
