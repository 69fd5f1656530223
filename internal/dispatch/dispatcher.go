// Package dispatch interprets inbound protocol frames and routes task
// results back to waiting callers.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/me/wdist/internal/metrics"
	"github.com/me/wdist/internal/protocol"
	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/internal/service"
	"github.com/me/wdist/internal/transport"
	"github.com/me/wdist/pkg/model"
)

// Reply texts sent to admin callers.
const (
	ReasonNoIdleWorkers = "No idle workers available"
	ReasonNotRunning    = "Service is not running"
)

// Binder associates a worker id with the connection it registered on.
type Binder interface {
	Bind(workerID string, c *transport.Conn)
}

// TaskService is the part of the task facade the dispatcher drives.
type TaskService interface {
	Submit(ctx context.Context, command, workerID string) (string, error)
	UpdateResult(ctx context.Context, taskID, result string, status model.TaskStatus) (model.Task, error)
}

// Option configures optional Dispatcher dependencies.
type Option func(*Dispatcher)

// WithKick sets a function called whenever new work may be dispatchable,
// typically the scheduler's Trigger.
func WithKick(kick func()) Option {
	return func(d *Dispatcher) {
		d.kick = kick
	}
}

// WithMetrics records frame and reply counts.
func WithMetrics(m *metrics.Exporter) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher is the single consumer of the connection layer's messages.
// Processing messages one at a time means a RESULT is always handled
// after the ADMIN_EXECUTE that recorded its correlation. Replies are
// queued on the peer's connection, so a peer that stops reading stalls
// only itself.
type Dispatcher struct {
	workers *registry.Registry
	tasks   TaskService
	conns   Binder
	replies *Correlator
	kick    func()
	metrics *metrics.Exporter
	logger  *slog.Logger
}

// New creates a dispatcher.
func New(workers *registry.Registry, tasks TaskService, conns Binder, replies *Correlator, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		workers: workers,
		tasks:   tasks,
		conns:   conns,
		replies: replies,
		kick:    func() {},
		logger:  logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run handles messages until ctx is cancelled or msgs is closed.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan transport.Message) error {
	d.logger.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping (context cancelled)")
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				d.logger.Info("dispatcher stopping (transport closed)")
				return nil
			}
			d.Handle(ctx, m)
		}
	}
}

// Handle processes one message.
func (d *Dispatcher) Handle(ctx context.Context, m transport.Message) {
	if m.Kind == transport.ConnClosed {
		d.handleClosed(m)
		return
	}

	d.metrics.RecordFrame(string(m.Frame.Type))
	switch m.Frame.Type {
	case protocol.TypeRegister:
		d.handleRegister(m)
	case protocol.TypeHeartbeat:
		d.handleHeartbeat(m)
	case protocol.TypeResult:
		d.handleResult(ctx, m)
	case protocol.TypeAdminExecute:
		d.handleAdminExecute(ctx, m)
	default:
		d.drop(m, "unknown_type", nil)
	}
}

func (d *Dispatcher) handleRegister(m transport.Message) {
	reg, err := protocol.Register(m.Frame)
	if err != nil {
		d.drop(m, "malformed", err)
		return
	}

	id := d.workers.Add(reg.Name, reg.ProcessID)
	d.workers.SetStatus(id, model.WorkerStatusIdle)
	d.conns.Bind(id, m.Conn)
	d.logger.Info("worker registered", "worker_id", id, "name", reg.Name, "pid", reg.ProcessID, "conn", m.Conn.ID())

	d.reply(m.Conn, protocol.EncodeRegistered(id))
	d.kick()
}

// handleHeartbeat refreshes liveness. A heartbeat from a worker marked
// disconnected revives it to idle and rebinds it to the carrying
// connection.
func (d *Dispatcher) handleHeartbeat(m transport.Message) {
	id, err := protocol.Heartbeat(m.Frame)
	if err != nil {
		d.drop(m, "malformed", err)
		return
	}
	if !validID(id) {
		d.drop(m, "bad_id", nil)
		return
	}
	w, ok := d.workers.Get(id)
	if !ok {
		d.drop(m, "unknown_worker", nil)
		return
	}
	d.workers.Touch(id)

	if w.Status == model.WorkerStatusDisconnected &&
		d.workers.CompareAndSetStatus(id, model.WorkerStatusDisconnected, model.WorkerStatusIdle) {
		d.conns.Bind(id, m.Conn)
		d.logger.Info("worker revived", "worker_id", id, "name", w.Name)
		d.kick()
	}
}

func (d *Dispatcher) handleResult(ctx context.Context, m transport.Message) {
	res, err := protocol.Result(m.Frame)
	if err != nil {
		d.drop(m, "malformed", err)
		return
	}
	if !validID(res.TaskID) || !validID(res.WorkerID) {
		d.drop(m, "bad_id", nil)
		return
	}

	task, err := d.tasks.UpdateResult(ctx, res.TaskID, res.Raw, model.StatusForResult(res.Raw))
	switch {
	case errors.Is(err, queue.ErrTaskNotFound):
		d.drop(m, "unknown_task", nil)
		return
	case errors.Is(err, queue.ErrTaskTerminal):
		d.drop(m, "duplicate_result", nil)
		return
	case err != nil:
		d.drop(m, "rejected_result", err)
		return
	}

	d.workers.Touch(res.WorkerID)
	d.workers.SetStatus(res.WorkerID, model.WorkerStatusIdle)

	if caller, ok := d.replies.Take(task.ID); ok {
		d.metrics.RecordPendingReplies(d.replies.Len())
		if !caller.Post(protocol.ForwardReply(res.Raw)) {
			d.logger.Warn("result not delivered to caller", "task_id", task.ID)
		}
	}
	d.kick()
}

func (d *Dispatcher) handleAdminExecute(ctx context.Context, m transport.Message) {
	command, err := protocol.AdminExecute(m.Frame)
	if err != nil {
		d.drop(m, "malformed", err)
		return
	}

	w, ok := d.workers.FirstIdle()
	if !ok {
		d.reply(m.Conn, protocol.EncodeError(ReasonNoIdleWorkers))
		return
	}

	taskID, err := d.tasks.Submit(ctx, command, w.ID)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, service.ErrNotRunning) {
			reason = ReasonNotRunning
		}
		d.reply(m.Conn, protocol.EncodeError(reason))
		return
	}

	d.replies.Record(taskID, m.Conn)
	d.metrics.RecordPendingReplies(d.replies.Len())
	d.logger.Info("admin execute queued", "task_id", taskID, "worker_id", w.ID, "conn", m.Conn.ID())

	d.reply(m.Conn, protocol.EncodeTaskQueued(taskID))
	d.kick()
}

// handleClosed reacts to a lost connection: the bound worker, if any, is
// marked disconnected and callers waiting on this connection are
// forgotten.
func (d *Dispatcher) handleClosed(m transport.Message) {
	if m.Conn != nil {
		if n := d.replies.ForgetConn(m.Conn); n > 0 {
			d.metrics.RecordPendingReplies(d.replies.Len())
			d.logger.Info("caller went away", "conn", m.Conn.ID(), "abandoned", n)
		}
	}
	if m.WorkerID == "" {
		return
	}
	if w, ok := d.workers.Get(m.WorkerID); ok && w.Status != model.WorkerStatusDisconnected {
		d.workers.SetStatus(m.WorkerID, model.WorkerStatusDisconnected)
		d.logger.Warn("worker connection lost", "worker_id", m.WorkerID, "name", w.Name, "was", w.Status)
	}
}

func (d *Dispatcher) reply(c *transport.Conn, frame string) {
	if c == nil {
		return
	}
	if !c.Post(frame) {
		d.logger.Warn("reply dropped", "conn", c.ID())
	}
}

func (d *Dispatcher) drop(m transport.Message, reason string, err error) {
	d.metrics.RecordDropped(reason)
	args := []any{"type", m.Frame.Type, "reason", reason}
	if m.Conn != nil {
		args = append(args, "conn", m.Conn.ID())
	}
	if err != nil {
		args = append(args, "error", err)
	}
	d.logger.Debug("frame dropped", args...)
}

func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
