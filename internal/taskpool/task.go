// Package taskpool implements the bounded-concurrency FIFO container/agent
// pool described in spec.md §4.1: tasks are admitted up to maxContainers
// concurrently, queued FIFO beyond that, and run to a terminal status
// through a pluggable Worker backend.
package taskpool

import "time"

// Status is a Task's position in the lifecycle DAG:
// queued -> running -> {completed, failed, cancelled}.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the DAG's terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is the unit of admission (spec.md §3 "Task").
type Task struct {
	ID          string
	Role        string
	Prompt      string
	Inputs      map[string]any
	Environment string
	Mounts      []Mount

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Status      Status
	ContainerID string
	Result      string
	Error       string

	// onEvent, if set at submission time, receives every lifecycle
	// transition for this task in addition to the pool-wide listeners.
	onEvent func(Event)
}

// Mount describes a host path made available to the worker.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Snapshot returns a value copy of the task safe to hand to callers outside
// the pool's lock.
func (t *Task) Snapshot() Task {
	cp := *t
	cp.onEvent = nil
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	if t.Inputs != nil {
		cp.Inputs = make(map[string]any, len(t.Inputs))
		for k, v := range t.Inputs {
			cp.Inputs[k] = v
		}
	}
	return cp
}
