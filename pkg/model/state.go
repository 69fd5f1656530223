package model

// TaskStatus represents the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the task is in a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// ValidTaskTransitions defines the allowed state transitions for Tasks.
// Terminal states have no outgoing edges.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkerStatus represents the lifecycle state of a Worker.
type WorkerStatus string

const (
	WorkerStatusConnected    WorkerStatus = "connected"
	WorkerStatusIdle         WorkerStatus = "idle"
	WorkerStatusBusy         WorkerStatus = "busy"
	WorkerStatusDisconnected WorkerStatus = "disconnected"
)

// String returns the string representation of the worker status.
func (s WorkerStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the known worker statuses.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusConnected, WorkerStatusIdle, WorkerStatusBusy, WorkerStatusDisconnected:
		return true
	}
	return false
}

// ValidWorkerTransitions defines the allowed state transitions for Workers.
// Any state may move to disconnected.
var ValidWorkerTransitions = map[WorkerStatus][]WorkerStatus{
	WorkerStatusConnected:    {WorkerStatusIdle, WorkerStatusDisconnected},
	WorkerStatusIdle:         {WorkerStatusBusy, WorkerStatusDisconnected},
	WorkerStatusBusy:         {WorkerStatusIdle, WorkerStatusDisconnected},
	WorkerStatusDisconnected: {WorkerStatusIdle},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s WorkerStatus) CanTransitionTo(next WorkerStatus) bool {
	for _, allowed := range ValidWorkerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
