package model

import "time"

// Worker is a remote process that executes commands over a persistent
// connection to the coordinator.
type Worker struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	ProcessID      int          `json:"process_id"`
	Status         WorkerStatus `json:"status"`
	ConnectedAt    time.Time    `json:"connected_at"`
	DisconnectedAt *time.Time   `json:"disconnected_at,omitempty"`
	LastSeen       time.Time    `json:"last_seen"`
}

// IsIdle reports whether the worker is eligible for assignment.
func (w *Worker) IsIdle() bool {
	return w.Status == WorkerStatusIdle
}
