package service

import (
	"sync"
	"time"

	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/pkg/model"
)

// ConnCounter reports the number of live worker connections.
type ConnCounter interface {
	ConnectedCount() int
}

// ReplyCounter reports the number of callers waiting for a result.
type ReplyCounter interface {
	Len() int
}

// StatusOption configures optional Status dependencies.
type StatusOption func(*Status)

// WithConnections includes live connection counts in snapshots.
func WithConnections(c ConnCounter) StatusOption {
	return func(s *Status) {
		s.conns = c
	}
}

// WithReplies includes pending reply counts in snapshots.
func WithReplies(r ReplyCounter) StatusOption {
	return func(s *Status) {
		s.replies = r
	}
}

// Status is the service-status facade. It holds the running flag and
// derives everything else from the registry and queue on demand.
type Status struct {
	reg     *registry.Registry
	queue   *queue.Queue
	conns   ConnCounter
	replies ReplyCounter

	mu        sync.Mutex
	running   bool
	startedAt *time.Time
}

// NewStatus creates the facade in the stopped state.
func NewStatus(reg *registry.Registry, q *queue.Queue, opts ...StatusOption) *Status {
	s := &Status{reg: reg, queue: q}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start marks the service running. Starting a running service keeps the
// original start time.
func (s *Status) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	now := time.Now().UTC()
	s.running = true
	s.startedAt = &now
}

// Stop marks the service stopped. Queued and in-flight tasks keep their
// state.
func (s *Status) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// IsRunning reports whether new submissions are accepted.
func (s *Status) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot computes the current service status.
func (s *Status) Snapshot() model.ServiceStatus {
	s.mu.Lock()
	running := s.running
	var startedAt *time.Time
	if s.startedAt != nil {
		t := *s.startedAt
		startedAt = &t
	}
	s.mu.Unlock()

	workers := s.reg.List()
	byID := make(map[string]model.WorkerStatus, len(workers))
	workersByStatus := make(map[model.WorkerStatus]int, 4)
	for _, w := range workers {
		byID[w.ID] = w.Status
		workersByStatus[w.Status]++
	}

	tasksByStatus := make(map[model.TaskStatus]int, 4)
	orphaned := 0
	for _, t := range s.queue.List() {
		tasksByStatus[t.Status]++
		if t.Status != model.TaskStatusInProgress {
			continue
		}
		if st, ok := byID[t.WorkerID]; !ok || st == model.WorkerStatusDisconnected {
			orphaned++
		}
	}

	out := model.ServiceStatus{
		IsRunning:       running,
		StartedAt:       startedAt,
		WorkersByStatus: workersByStatus,
		TasksByStatus:   tasksByStatus,
		QueueDepth:      tasksByStatus[model.TaskStatusPending],
		OrphanedTasks:   orphaned,
		Workers:         workers,
	}
	if s.conns != nil {
		out.ConnectedWorkers = s.conns.ConnectedCount()
	}
	if s.replies != nil {
		out.PendingReplies = s.replies.Len()
	}
	return out
}
