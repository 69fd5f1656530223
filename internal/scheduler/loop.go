package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/wdist/internal/metrics"
	"github.com/me/wdist/internal/protocol"
	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/pkg/model"
)

// Config holds scheduling loop configuration.
type Config struct {
	Interval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second}
}

// Sender delivers frames to workers over their bound connections.
type Sender interface {
	Send(workerID, frame string) bool
	Disconnect(workerID string)
}

// Loop pairs idle workers with pending tasks and sends EXECUTE frames.
type Loop struct {
	*periodic
	workers *registry.Registry
	queue   *queue.Queue
	conns   Sender
	metrics *metrics.Exporter
	trigger chan struct{}
}

var _ Scheduler = (*Loop)(nil)

// NewLoop creates a new scheduling loop. m may be nil.
func NewLoop(workers *registry.Registry, q *queue.Queue, conns Sender, cfg Config, logger *slog.Logger, m *metrics.Exporter) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	trigger := make(chan struct{}, 1)
	return &Loop{
		periodic: newPeriodic(logger.With("component", "scheduler"), cfg.Interval, trigger),
		workers:  workers,
		queue:    q,
		conns:    conns,
		metrics:  m,
		trigger:  trigger,
	}
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	return l.run(ctx, l.Tick)
}

// Stop gracefully shuts down the loop and waits for the current tick to finish.
func (l *Loop) Stop() error {
	return l.stop()
}

// Trigger requests an immediate tick without waiting for the interval.
// It never blocks; triggers arriving while one is pending are merged.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Tick hands at most one pending task to each idle worker, in registration
// order. Workers are marked busy before the EXECUTE frame is written so a
// fast RESULT cannot be overwritten. A failed send disconnects the worker
// and leaves its task IN_PROGRESS.
func (l *Loop) Tick(ctx context.Context) error {
	defer func() {
		l.metrics.RecordQueueDepth(l.queue.PendingCount())
		l.metrics.RecordWorkers(l.workers.Counts())
	}()

	if l.queue.PendingCount() == 0 {
		return nil
	}

	for _, w := range l.workers.List() {
		if w.Status != model.WorkerStatusIdle {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !l.workers.CompareAndSetStatus(w.ID, model.WorkerStatusIdle, model.WorkerStatusBusy) {
			continue
		}

		task, ok := l.queue.DequeueNext(w.ID)
		if !ok {
			l.workers.CompareAndSetStatus(w.ID, model.WorkerStatusBusy, model.WorkerStatusIdle)
			return nil
		}

		if !l.conns.Send(w.ID, protocol.EncodeExecute(task.Command, task.ID)) {
			l.metrics.RecordDispatch(false)
			l.conns.Disconnect(w.ID)
			l.workers.SetStatus(w.ID, model.WorkerStatusDisconnected)
			l.logger.Warn("dispatch failed, task orphaned",
				"task_id", task.ID, "worker_id", w.ID, "name", w.Name)
			continue
		}
		l.metrics.RecordDispatch(true)
		l.logger.Info("task dispatched", "task_id", task.ID, "worker_id", w.ID, "name", w.Name, "command", task.Command)
	}
	return nil
}
