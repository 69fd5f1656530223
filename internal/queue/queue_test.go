package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/me/wdist/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue(t *testing.T) {
	q := New()
	id := q.Enqueue("whoami", "w1")
	require.NotEmpty(t, id)

	task, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, "whoami", task.Command)
	assert.Equal(t, "w1", task.WorkerID)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Empty(t, task.Result)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, 1, q.PendingCount())
}

func TestDequeueNext_FIFO(t *testing.T) {
	q := New()
	a := q.Enqueue("a", "w1")
	b := q.Enqueue("b", "w2")
	c := q.Enqueue("c", "w1")

	// The dequeuing worker does not need to match the submission worker.
	for _, want := range []string{a, b, c} {
		task, ok := q.DequeueNext("w9")
		require.True(t, ok)
		assert.Equal(t, want, task.ID)
		assert.Equal(t, "w9", task.WorkerID)
		assert.Equal(t, model.TaskStatusInProgress, task.Status)
	}

	_, ok := q.DequeueNext("w9")
	assert.False(t, ok)
	assert.Equal(t, 0, q.PendingCount())
}

func TestDequeueNext_Empty(t *testing.T) {
	q := New()
	_, ok := q.DequeueNext("w1")
	assert.False(t, ok)
}

func TestDequeueNext_NoDoubleDelivery(t *testing.T) {
	q := New()
	const n = 200
	for i := 0; i < n; i++ {
		q.Enqueue("cmd", "")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.DequeueNext("w")
				if !ok {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, c := range seen {
		assert.Equal(t, 1, c, "task %s dequeued %d times", id, c)
	}
}

func TestUpdateResult(t *testing.T) {
	q := New()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	id := q.Enqueue("whoami", "w1")
	q.DequeueNext("w1")

	require.NoError(t, q.UpdateResult(id, "root", model.TaskStatusCompleted))

	task, _ := q.Get(id)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Equal(t, "root", task.Result)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, fixed, *task.CompletedAt)
}

func TestUpdateResult_Errors(t *testing.T) {
	q := New()

	err := q.UpdateResult("missing", "x", model.TaskStatusCompleted)
	assert.True(t, errors.Is(err, ErrTaskNotFound))

	// Pending tasks cannot jump straight to a terminal state.
	pending := q.Enqueue("a", "w1")
	err = q.UpdateResult(pending, "x", model.TaskStatusCompleted)
	var ite *model.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, "PENDING", ite.From)

	// Non-terminal target.
	q.DequeueNext("w1")
	err = q.UpdateResult(pending, "x", model.TaskStatusPending)
	assert.True(t, errors.As(err, &ite))
}

func TestUpdateResult_TerminalIsFinal(t *testing.T) {
	q := New()
	id := q.Enqueue("a", "w1")
	q.DequeueNext("w1")
	require.NoError(t, q.UpdateResult(id, "ERROR:boom", model.TaskStatusFailed))

	err := q.UpdateResult(id, "late", model.TaskStatusCompleted)
	assert.True(t, errors.Is(err, ErrTaskTerminal))

	task, _ := q.Get(id)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.Equal(t, "ERROR:boom", task.Result)
}

func TestTasksFor(t *testing.T) {
	q := New()
	q.Enqueue("a", "w1")
	q.Enqueue("b", "w2")
	q.Enqueue("c", "w1")

	tasks := q.TasksFor("w1")
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].Command)
	assert.Equal(t, "c", tasks[1].Command)

	// Dequeue reassigns ownership.
	q.DequeueNext("w2")
	assert.Len(t, q.TasksFor("w1"), 1)
	assert.Len(t, q.TasksFor("w2"), 2)
	assert.Empty(t, q.TasksFor("nobody"))
}

func TestListAndCounts(t *testing.T) {
	q := New()
	a := q.Enqueue("a", "")
	q.Enqueue("b", "")
	q.DequeueNext("w1")
	require.NoError(t, q.UpdateResult(a, "ok", model.TaskStatusCompleted))

	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Command)

	counts := q.Counts()
	assert.Equal(t, 1, counts[model.TaskStatusCompleted])
	assert.Equal(t, 1, counts[model.TaskStatusPending])
	assert.Equal(t, 0, counts[model.TaskStatusInProgress])
}
