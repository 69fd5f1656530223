package store

import (
	"context"

	"github.com/me/wdist/pkg/model"
)

// Store is the task history journal. Only tasks that reached a terminal
// status are written; the live queue is never reloaded from it.
type Store interface {
	// RecordTask inserts or replaces a finished task.
	RecordTask(ctx context.Context, task model.Task) error
	// GetTask returns nil, nil when the task is not in the journal.
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// ListTasks returns a page of tasks, newest completion first, and the
	// total number matching the filters.
	ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error)
	// CountByStatus summarizes the journal.
	CountByStatus(ctx context.Context) (map[model.TaskStatus]int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
