// Package queue holds the coordinator's in-memory task queue.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/wdist/pkg/model"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskTerminal is returned when a result arrives for a task that
	// already completed or failed.
	ErrTaskTerminal = errors.New("task already in a terminal state")
)

// Queue stores every task the coordinator has accepted. Pending tasks are
// handed out strictly in creation order regardless of the worker they were
// submitted for.
type Queue struct {
	mu      sync.Mutex
	tasks   map[string]*model.Task
	order   []string // creation order of all tasks
	pending []string // creation order of PENDING tasks
	now     func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		tasks: make(map[string]*model.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue appends a PENDING task and returns its id. The worker id records
// who the task was submitted for; it does not restrict dispatch.
func (q *Queue) Enqueue(command, workerID string) string {
	t := &model.Task{
		ID:        uuid.New().String(),
		Command:   command,
		WorkerID:  workerID,
		Status:    model.TaskStatusPending,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[t.ID] = t
	q.order = append(q.order, t.ID)
	q.pending = append(q.pending, t.ID)
	return t.ID
}

// DequeueNext removes the oldest PENDING task, assigns it to workerID and
// marks it IN_PROGRESS. It returns false when nothing is pending. A task is
// never handed out twice.
func (q *Queue) DequeueNext(workerID string) (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return model.Task{}, false
	}
	id := q.pending[0]
	q.pending[0] = ""
	q.pending = q.pending[1:]

	t := q.tasks[id]
	t.WorkerID = workerID
	t.Status = model.TaskStatusInProgress
	return copyTask(t), true
}

// UpdateResult records the outcome of a task. status must be COMPLETED or
// FAILED and the task must currently be IN_PROGRESS.
func (q *Queue) UpdateResult(taskID, result string, status model.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("update result for %s: %w", taskID, ErrTaskNotFound)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("update result for %s (%s): %w", taskID, t.Status, ErrTaskTerminal)
	}
	if !status.IsTerminal() || !t.Status.CanTransitionTo(status) {
		return &model.InvalidTransitionError{
			Entity: "task",
			ID:     taskID,
			From:   string(t.Status),
			To:     string(status),
		}
	}

	now := q.now()
	t.Status = status
	t.Result = result
	t.CompletedAt = &now
	return nil
}

// Get returns a copy of a task.
func (q *Queue) Get(taskID string) (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return model.Task{}, false
	}
	return copyTask(t), true
}

// List returns copies of every task in creation order.
func (q *Queue) List() []model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.Task, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, copyTask(q.tasks[id]))
	}
	return out
}

// TasksFor returns the tasks currently assigned to a worker, in creation
// order.
func (q *Queue) TasksFor(workerID string) []model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []model.Task
	for _, id := range q.order {
		if t := q.tasks[id]; t.WorkerID == workerID {
			out = append(out, copyTask(t))
		}
	}
	return out
}

// PendingCount returns the number of PENDING tasks.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Counts returns the number of tasks in each status.
func (q *Queue) Counts() map[model.TaskStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[model.TaskStatus]int, 4)
	for _, t := range q.tasks {
		counts[t.Status]++
	}
	return counts
}

func copyTask(t *model.Task) model.Task {
	c := *t
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}
