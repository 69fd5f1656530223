package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConns struct {
	disconnected []string
	count        int
}

func (f *fakeConns) Disconnect(id string) { f.disconnected = append(f.disconnected, id) }
func (f *fakeConns) ConnectedCount() int  { return f.count }

type fakeJournal struct {
	tasks []model.Task
	err   error
}

func (f *fakeJournal) RecordTask(_ context.Context, t model.Task) error {
	f.tasks = append(f.tasks, t)
	return f.err
}

type fixture struct {
	reg     *registry.Registry
	q       *queue.Queue
	conns   *fakeConns
	journal *fakeJournal
	workers *Workers
	tasks   *Tasks
	status  *Status
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:     registry.New(),
		q:       queue.New(),
		conns:   &fakeConns{},
		journal: &fakeJournal{},
	}
	f.status = NewStatus(f.reg, f.q, WithConnections(f.conns))
	f.status.Start()
	f.workers = NewWorkers(f.reg, f.conns, discardLogger())
	f.tasks = NewTasks(f.reg, f.q, f.status, discardLogger(), WithJournal(f.journal))
	return f
}

func TestWorkers_AddGetRemove(t *testing.T) {
	f := newFixture(t)

	w, err := f.workers.Add("  W1 ", 10)
	require.NoError(t, err)
	assert.Equal(t, "W1", w.Name)
	assert.Equal(t, model.WorkerStatusConnected, w.Status)

	got, err := f.workers.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	byName, err := f.workers.GetByName("W1")
	require.NoError(t, err)
	assert.Equal(t, w.ID, byName.ID)

	require.NoError(t, f.workers.Remove(w.ID))
	assert.Equal(t, []string{w.ID}, f.conns.disconnected)

	_, err = f.workers.Get(w.ID)
	assert.ErrorIs(t, err, ErrWorkerNotFound)
	assert.ErrorIs(t, f.workers.Remove(w.ID), ErrWorkerNotFound)
	_, err = f.workers.GetByName("W1")
	assert.ErrorIs(t, err, ErrWorkerNotFound)

	_, err = f.workers.Add(" ", 0)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestWorkers_UpdateStatus(t *testing.T) {
	f := newFixture(t)
	w, _ := f.workers.Add("W1", 0)

	updated, err := f.workers.UpdateStatus(w.ID, model.WorkerStatusIdle)
	require.NoError(t, err)
	assert.Equal(t, model.WorkerStatusIdle, updated.Status)

	// Same status is a no-op.
	_, err = f.workers.UpdateStatus(w.ID, model.WorkerStatusIdle)
	assert.NoError(t, err)

	_, err = f.workers.UpdateStatus(w.ID, model.WorkerStatusConnected)
	var ite *model.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, "idle", ite.From)
	assert.Equal(t, "connected", ite.To)

	_, err = f.workers.UpdateStatus(w.ID, "sleeping")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.workers.UpdateStatus("missing", model.WorkerStatusIdle)
	assert.ErrorIs(t, err, ErrWorkerNotFound)

	updated, err = f.workers.UpdateStatus(w.ID, model.WorkerStatusDisconnected)
	require.NoError(t, err)
	assert.NotNil(t, updated.DisconnectedAt)
}

func TestTasks_Submit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, _ := f.workers.Add("W1", 0)

	id, err := f.tasks.Submit(ctx, "whoami", w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.tasks.QueueDepth())

	task, err := f.tasks.Get(id)
	require.NoError(t, err)
	assert.Equal(t, w.ID, task.WorkerID)

	_, err = f.tasks.Submit(ctx, "whoami", "")
	assert.NoError(t, err, "unassigned submit is allowed")

	_, err = f.tasks.Submit(ctx, "   ", w.ID)
	assert.ErrorIs(t, err, ErrEmptyCommand)
	_, err = f.tasks.Submit(ctx, "echo a\necho b", w.ID)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = f.tasks.Submit(ctx, "whoami", "missing")
	assert.ErrorIs(t, err, ErrWorkerNotFound)

	assert.Equal(t, 2, f.tasks.QueueDepth())
}

func TestTasks_SubmitWhileStopped(t *testing.T) {
	f := newFixture(t)
	f.status.Stop()

	_, err := f.tasks.Submit(context.Background(), "whoami", "")
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, 0, f.tasks.QueueDepth(), "rejected submit must not create a task")

	f.status.Start()
	_, err = f.tasks.Submit(context.Background(), "whoami", "")
	assert.NoError(t, err)
}

func TestTasks_NextTaskAndResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, _ := f.workers.Add("W1", 0)
	f.reg.SetStatus(w.ID, model.WorkerStatusIdle)

	_, ok, err := f.tasks.NextTask(w.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	id, _ := f.tasks.Submit(ctx, "whoami", "")
	task, ok, err := f.tasks.NextTask(w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, model.TaskStatusInProgress, task.Status)

	busy, _ := f.workers.Get(w.ID)
	assert.Equal(t, model.WorkerStatusBusy, busy.Status)

	done, err := f.tasks.UpdateResult(ctx, id, "root", model.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, done.Status)
	require.Len(t, f.journal.tasks, 1)
	assert.Equal(t, "root", f.journal.tasks[0].Result)

	_, err = f.tasks.UpdateResult(ctx, id, "again", model.TaskStatusCompleted)
	assert.ErrorIs(t, err, queue.ErrTaskTerminal)
	assert.Len(t, f.journal.tasks, 1, "rejected result is not journaled")

	_, _, err = f.tasks.NextTask("missing")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestTasks_NextTaskRequiresIdleWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, _ := f.workers.Add("W1", 0)
	f.reg.SetStatus(w.ID, model.WorkerStatusIdle)

	first, _ := f.tasks.Submit(ctx, "a", "")
	second, _ := f.tasks.Submit(ctx, "b", "")

	task, ok, err := f.tasks.NextTask(w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, task.ID)

	// A busy worker is never handed a second task.
	_, ok, err = f.tasks.NextTask(w.ID)
	assert.ErrorIs(t, err, ErrWorkerNotIdle)
	assert.False(t, ok)
	pending, _ := f.tasks.Get(second)
	assert.Equal(t, model.TaskStatusPending, pending.Status)
	assert.Equal(t, 1, f.tasks.QueueDepth())

	f.reg.SetStatus(w.ID, model.WorkerStatusDisconnected)
	_, _, err = f.tasks.NextTask(w.ID)
	assert.ErrorIs(t, err, ErrWorkerNotIdle)
}

func TestTasks_NextTaskReleasesWorkerWhenQueueEmpty(t *testing.T) {
	f := newFixture(t)
	w, _ := f.workers.Add("W1", 0)
	f.reg.SetStatus(w.ID, model.WorkerStatusIdle)

	_, ok, err := f.tasks.NextTask(w.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := f.workers.Get(w.ID)
	assert.Equal(t, model.WorkerStatusIdle, got.Status)
}

func TestTasks_FinishReleasesWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, _ := f.workers.Add("W1", 0)
	f.reg.SetStatus(w.ID, model.WorkerStatusIdle)

	id, _ := f.tasks.Submit(ctx, "uptime", "")
	_, ok, err := f.tasks.NextTask(w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	task, err := f.tasks.Finish(ctx, id, "up 1 day", model.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	got, _ := f.workers.Get(w.ID)
	assert.Equal(t, model.WorkerStatusIdle, got.Status)

	_, err = f.tasks.Finish(ctx, id, "again", model.TaskStatusCompleted)
	assert.ErrorIs(t, err, queue.ErrTaskTerminal)
	_, err = f.tasks.Finish(ctx, "missing", "x", model.TaskStatusCompleted)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTasks_JournalErrorIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.journal.err = errors.New("disk full")
	ctx := context.Background()
	w, _ := f.workers.Add("W1", 0)
	f.reg.SetStatus(w.ID, model.WorkerStatusIdle)

	id, _ := f.tasks.Submit(ctx, "false", "")
	f.tasks.NextTask(w.ID)

	task, err := f.tasks.UpdateResult(ctx, id, "ERROR:exit status 1", model.TaskStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
}

func TestTasks_TasksFor(t *testing.T) {
	f := newFixture(t)
	w, _ := f.workers.Add("W1", 0)
	f.tasks.Submit(context.Background(), "a", w.ID)

	tasks, err := f.tasks.TasksFor(w.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = f.tasks.TasksFor("missing")
	assert.ErrorIs(t, err, ErrWorkerNotFound)

	_, err = f.tasks.Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

type fakeReplies int

func (f fakeReplies) Len() int { return int(f) }

func TestStatus_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.status = NewStatus(f.reg, f.q, WithConnections(f.conns), WithReplies(fakeReplies(2)))
	f.status.Start()
	f.conns.count = 1
	ctx := context.Background()
	tasks := NewTasks(f.reg, f.q, f.status, discardLogger())

	idle, _ := f.workers.Add("idle", 0)
	f.reg.SetStatus(idle.ID, model.WorkerStatusIdle)
	gone, _ := f.workers.Add("gone", 0)
	f.reg.SetStatus(gone.ID, model.WorkerStatusIdle)

	tasks.Submit(ctx, "a", "")
	tasks.Submit(ctx, "b", "")
	tasks.NextTask(gone.ID)
	f.reg.SetStatus(gone.ID, model.WorkerStatusDisconnected)

	snap := f.status.Snapshot()
	assert.True(t, snap.IsRunning)
	require.NotNil(t, snap.StartedAt)
	assert.Equal(t, 1, snap.QueueDepth)
	assert.Equal(t, 1, snap.WorkersByStatus[model.WorkerStatusIdle])
	assert.Equal(t, 1, snap.WorkersByStatus[model.WorkerStatusDisconnected])
	assert.Equal(t, 1, snap.TasksByStatus[model.TaskStatusInProgress])
	assert.Equal(t, 1, snap.OrphanedTasks)
	assert.Equal(t, 1, snap.ConnectedWorkers)
	assert.Equal(t, 2, snap.PendingReplies)
	assert.Len(t, snap.Workers, 2)
}

func TestStatus_StartStop(t *testing.T) {
	s := NewStatus(registry.New(), queue.New())
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.Snapshot().StartedAt)

	s.Start()
	first := *s.Snapshot().StartedAt
	s.Start()
	assert.Equal(t, first, *s.Snapshot().StartedAt, "restart while running keeps start time")

	s.Stop()
	assert.False(t, s.IsRunning())
}
