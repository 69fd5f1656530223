package model

import (
	"strings"
	"time"
)

// ResultErrorPrefix marks a task result payload as a failure.
const ResultErrorPrefix = "ERROR:"

// Task is one submitted command and its lifecycle.
type Task struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	WorkerID    string     `json:"worker_id"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusForResult derives the terminal status carried by a result payload.
func StatusForResult(payload string) TaskStatus {
	if strings.HasPrefix(payload, ResultErrorPrefix) {
		return TaskStatusFailed
	}
	return TaskStatusCompleted
}

// Duration returns how long the task took to reach a terminal state,
// or zero if it has not finished.
func (t *Task) Duration() time.Duration {
	if t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(t.CreatedAt)
}
