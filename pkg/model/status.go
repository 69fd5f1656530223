package model

import "time"

// ServiceStatus is a point-in-time view of the coordinator computed from
// the worker registry and the task queue. It owns no state.
type ServiceStatus struct {
	IsRunning        bool                 `json:"is_running"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	WorkersByStatus  map[WorkerStatus]int `json:"workers_by_status"`
	TasksByStatus    map[TaskStatus]int   `json:"tasks_by_status"`
	QueueDepth       int                  `json:"queue_depth"`
	ConnectedWorkers int                  `json:"connected_workers"`
	OrphanedTasks    int                  `json:"orphaned_tasks"`
	PendingReplies   int                  `json:"pending_replies"`
	Workers          []Worker             `json:"workers"`
}
