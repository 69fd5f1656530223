package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/wdist/internal/metrics"
	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/pkg/model"
)

// Journal records tasks that reached a terminal status.
type Journal interface {
	RecordTask(ctx context.Context, t model.Task) error
}

// TasksOption configures optional Tasks dependencies.
type TasksOption func(*Tasks)

// WithJournal appends every finished task to j.
func WithJournal(j Journal) TasksOption {
	return func(t *Tasks) {
		t.journal = j
	}
}

// WithMetrics records submissions and completions.
func WithMetrics(m *metrics.Exporter) TasksOption {
	return func(t *Tasks) {
		t.metrics = m
	}
}

// Tasks is the task-distribution facade.
type Tasks struct {
	reg     *registry.Registry
	queue   *queue.Queue
	status  *Status
	journal Journal
	metrics *metrics.Exporter
	logger  *slog.Logger
}

// NewTasks creates the facade.
func NewTasks(reg *registry.Registry, q *queue.Queue, status *Status, logger *slog.Logger, opts ...TasksOption) *Tasks {
	t := &Tasks{
		reg:    reg,
		queue:  q,
		status: status,
		logger: logger.With("component", "tasks"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit queues a command. workerID names the worker the command is meant
// for and may be empty; dispatch itself goes to whichever idle worker the
// scheduler picks next.
func (t *Tasks) Submit(ctx context.Context, command, workerID string) (string, error) {
	if !t.status.IsRunning() {
		return "", ErrNotRunning
	}
	if strings.TrimSpace(command) == "" {
		return "", ErrEmptyCommand
	}
	if strings.ContainsAny(command, "\r\n") {
		return "", ErrInvalidCommand
	}
	if workerID != "" {
		if _, ok := t.reg.Get(workerID); !ok {
			return "", fmt.Errorf("submit for %s: %w", workerID, ErrWorkerNotFound)
		}
	}

	id := t.queue.Enqueue(command, workerID)
	t.metrics.RecordSubmitted()
	t.logger.Info("task submitted", "task_id", id, "worker_id", workerID, "command", command)
	return id, nil
}

// NextTask claims an idle worker and hands it the oldest pending task. A
// worker that is not idle gets ErrWorkerNotIdle and nothing is dequeued.
// When the queue is empty the worker is released and ok is false.
func (t *Tasks) NextTask(workerID string) (model.Task, bool, error) {
	if !t.reg.CompareAndSetStatus(workerID, model.WorkerStatusIdle, model.WorkerStatusBusy) {
		w, ok := t.reg.Get(workerID)
		if !ok {
			return model.Task{}, false, fmt.Errorf("next task for %s: %w", workerID, ErrWorkerNotFound)
		}
		return model.Task{}, false, fmt.Errorf("next task for %s (%s): %w", workerID, w.Status, ErrWorkerNotIdle)
	}
	task, ok := t.queue.DequeueNext(workerID)
	if !ok {
		t.reg.CompareAndSetStatus(workerID, model.WorkerStatusBusy, model.WorkerStatusIdle)
		return model.Task{}, false, nil
	}
	return task, true, nil
}

// Finish records a result reported outside the TCP protocol and hands the
// worker that ran the task back to the pool.
func (t *Tasks) Finish(ctx context.Context, taskID, result string, status model.TaskStatus) (model.Task, error) {
	task, err := t.UpdateResult(ctx, taskID, result, status)
	if err != nil {
		return model.Task{}, err
	}
	if task.WorkerID != "" {
		t.reg.CompareAndSetStatus(task.WorkerID, model.WorkerStatusBusy, model.WorkerStatusIdle)
	}
	return task, nil
}

// UpdateResult records a task outcome and returns the finished task.
// Errors from the queue are returned unchanged so callers can match
// queue.ErrTaskNotFound and queue.ErrTaskTerminal.
func (t *Tasks) UpdateResult(ctx context.Context, taskID, result string, status model.TaskStatus) (model.Task, error) {
	if err := t.queue.UpdateResult(taskID, result, status); err != nil {
		return model.Task{}, err
	}
	task, _ := t.queue.Get(taskID)
	t.metrics.RecordFinished(task.Status, task.Duration())
	t.logger.Info("task finished", "task_id", taskID, "worker_id", task.WorkerID, "status", task.Status)

	if t.journal != nil {
		if err := t.journal.RecordTask(ctx, task); err != nil {
			t.logger.Warn("journal task", "task_id", taskID, "error", err)
		}
	}
	return task, nil
}

// TasksFor returns the tasks assigned to a registered worker.
func (t *Tasks) TasksFor(workerID string) ([]model.Task, error) {
	if _, ok := t.reg.Get(workerID); !ok {
		return nil, fmt.Errorf("tasks for %s: %w", workerID, ErrWorkerNotFound)
	}
	return t.queue.TasksFor(workerID), nil
}

// QueueDepth returns the number of pending tasks.
func (t *Tasks) QueueDepth() int {
	return t.queue.PendingCount()
}

// Get returns one task.
func (t *Tasks) Get(taskID string) (model.Task, error) {
	task, ok := t.queue.Get(taskID)
	if !ok {
		return model.Task{}, fmt.Errorf("get %s: %w", taskID, ErrTaskNotFound)
	}
	return task, nil
}

// List returns every task known to the coordinator in creation order.
func (t *Tasks) List() []model.Task {
	return t.queue.List()
}
