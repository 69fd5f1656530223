// Package registry tracks the workers known to the coordinator and their
// status.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/wdist/pkg/model"
)

// Registry is the set of known workers. All methods are safe for concurrent
// use. Each call is linearizable on a single worker; callers needing
// "check then act" semantics use CompareAndSetStatus.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*model.Worker
	order   []string // registration order, drives List and GetByName
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		workers: make(map[string]*model.Worker),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Add registers a worker and returns its fresh identifier. The worker
// starts in the connected state. Names are not required to be unique.
func (r *Registry) Add(name string, processID int) string {
	now := r.now()
	w := &model.Worker{
		ID:          uuid.New().String(),
		Name:        name,
		ProcessID:   processID,
		Status:      model.WorkerStatusConnected,
		ConnectedAt: now,
		LastSeen:    now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
	r.order = append(r.order, w.ID)
	return w.ID
}

// Remove deletes a worker. It returns false if the id is unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[id]; !ok {
		return false
	}
	delete(r.workers, id)
	for i, wid := range r.order {
		if wid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the worker with the given id.
func (r *Registry) Get(id string) (model.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return model.Worker{}, false
	}
	return copyWorker(w), true
}

// GetByName returns the first registered worker with the given name.
// When several workers share a name the earliest registration wins.
func (r *Registry) GetByName(name string) (model.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if w := r.workers[id]; w.Name == name {
			return copyWorker(w), true
		}
	}
	return model.Worker{}, false
}

// List returns copies of all workers in registration order.
func (r *Registry) List() []model.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copyWorker(r.workers[id]))
	}
	return out
}

// SetStatus changes a worker's status. It returns false if the id is
// unknown. Transitions are not validated here.
func (r *Registry) SetStatus(id string, status model.WorkerStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return false
	}
	r.setStatusLocked(w, status)
	return true
}

// CompareAndSetStatus moves a worker from one status to another only if it
// is currently in from. It returns false if the worker is unknown or in a
// different status.
func (r *Registry) CompareAndSetStatus(id string, from, to model.WorkerStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok || w.Status != from {
		return false
	}
	r.setStatusLocked(w, to)
	return true
}

// FirstIdle returns the first idle worker in registration order without
// changing its status.
func (r *Registry) FirstIdle() (model.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if w := r.workers[id]; w.Status == model.WorkerStatusIdle {
			return copyWorker(w), true
		}
	}
	return model.Worker{}, false
}

// Touch refreshes a worker's last-seen timestamp. It returns false if the
// id is unknown.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return false
	}
	w.LastSeen = r.now()
	return true
}

// Counts returns the number of workers in each status.
func (r *Registry) Counts() map[model.WorkerStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[model.WorkerStatus]int, 4)
	for _, w := range r.workers {
		counts[w.Status]++
	}
	return counts
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

func (r *Registry) setStatusLocked(w *model.Worker, status model.WorkerStatus) {
	if w.Status == status {
		return
	}
	switch {
	case status == model.WorkerStatusDisconnected:
		now := r.now()
		w.DisconnectedAt = &now
	case w.Status == model.WorkerStatusDisconnected:
		w.DisconnectedAt = nil
	}
	w.Status = status
}

func copyWorker(w *model.Worker) model.Worker {
	c := *w
	if w.DisconnectedAt != nil {
		t := *w.DisconnectedAt
		c.DisconnectedAt = &t
	}
	return c
}
