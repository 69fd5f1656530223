package service

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/pkg/model"
)

// Disconnecter closes a worker's connection.
type Disconnecter interface {
	Disconnect(workerID string)
}

// Workers is the worker-management facade.
type Workers struct {
	reg    *registry.Registry
	conns  Disconnecter
	logger *slog.Logger
}

// NewWorkers creates the facade. conns may be nil when no connection layer
// is running.
func NewWorkers(reg *registry.Registry, conns Disconnecter, logger *slog.Logger) *Workers {
	return &Workers{
		reg:    reg,
		conns:  conns,
		logger: logger.With("component", "workers"),
	}
}

// Add registers a worker record without a connection.
func (w *Workers) Add(name string, processID int) (model.Worker, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Worker{}, ErrEmptyName
	}
	id := w.reg.Add(name, processID)
	w.logger.Info("worker added", "worker_id", id, "name", name)
	worker, _ := w.reg.Get(id)
	return worker, nil
}

// Remove unregisters a worker and closes its connection if it has one.
func (w *Workers) Remove(id string) error {
	if !w.reg.Remove(id) {
		return fmt.Errorf("remove %s: %w", id, ErrWorkerNotFound)
	}
	if w.conns != nil {
		w.conns.Disconnect(id)
	}
	w.logger.Info("worker removed", "worker_id", id)
	return nil
}

// List returns all workers in registration order.
func (w *Workers) List() []model.Worker {
	return w.reg.List()
}

// Get returns one worker.
func (w *Workers) Get(id string) (model.Worker, error) {
	worker, ok := w.reg.Get(id)
	if !ok {
		return model.Worker{}, fmt.Errorf("get %s: %w", id, ErrWorkerNotFound)
	}
	return worker, nil
}

// GetByName returns the earliest registered worker with the given name.
func (w *Workers) GetByName(name string) (model.Worker, error) {
	worker, ok := w.reg.GetByName(name)
	if !ok {
		return model.Worker{}, fmt.Errorf("get by name %q: %w", name, ErrWorkerNotFound)
	}
	return worker, nil
}

// UpdateStatus applies an administrative status change. The transition must
// be legal according to model.ValidWorkerTransitions; setting the current
// status again is a no-op.
func (w *Workers) UpdateStatus(id string, status model.WorkerStatus) (model.Worker, error) {
	if !status.Valid() {
		return model.Worker{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	current, ok := w.reg.Get(id)
	if !ok {
		return model.Worker{}, fmt.Errorf("update status %s: %w", id, ErrWorkerNotFound)
	}
	if current.Status == status {
		return current, nil
	}
	if !current.Status.CanTransitionTo(status) {
		return model.Worker{}, &model.InvalidTransitionError{
			Entity: "worker",
			ID:     id,
			From:   string(current.Status),
			To:     string(status),
		}
	}
	if !w.reg.CompareAndSetStatus(id, current.Status, status) {
		return model.Worker{}, fmt.Errorf("update status %s: %w", id, ErrConcurrentUpdate)
	}
	w.logger.Info("worker status updated", "worker_id", id, "from", current.Status, "to", status)

	updated, _ := w.reg.Get(id)
	return updated, nil
}
