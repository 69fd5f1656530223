// Package service exposes the coordinator core to its collaborators: the
// HTTP façade, the protocol dispatcher and the hosting process.
package service

import (
	"errors"

	"github.com/me/wdist/internal/queue"
)

var (
	// ErrNotRunning is returned by Submit while the service is stopped.
	ErrNotRunning = errors.New("service is not running")
	// ErrWorkerNotFound is returned when a worker id or name is unknown.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = queue.ErrTaskNotFound
	// ErrEmptyCommand is returned when a submitted command is blank.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrInvalidCommand is returned when a command cannot travel in one frame.
	ErrInvalidCommand = errors.New("command must be a single line")
	// ErrEmptyName is returned when a worker is added without a name.
	ErrEmptyName = errors.New("worker name is empty")
	// ErrInvalidStatus is returned for an unknown worker status value.
	ErrInvalidStatus = errors.New("invalid worker status")
	// ErrWorkerNotIdle is returned when a task is requested for a worker
	// that is not idle.
	ErrWorkerNotIdle = errors.New("worker is not idle")
	// ErrConcurrentUpdate is returned when a worker changed status while an
	// administrative update was being applied.
	ErrConcurrentUpdate = errors.New("worker status changed concurrently")
)
