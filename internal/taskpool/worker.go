package taskpool

import (
	"context"
	"time"
)

// ContainerStatus mirrors the lifecycle a Worker reports for a container it
// manages, independent of the Task.Status the pool tracks.
type ContainerStatus string

const (
	ContainerCreated ContainerStatus = "created"
	ContainerRunning ContainerStatus = "running"
	ContainerExited  ContainerStatus = "exited"
	ContainerTimeout ContainerStatus = "timeout"
	ContainerRemoved ContainerStatus = "removed"
)

// ContainerInfo is the handle a Worker hands back for a managed unit of work
// (spec.md §6, "Worker adapter").
type ContainerInfo struct {
	ID            string
	ContainerID   string
	EnvironmentID string
	Status        ContainerStatus
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// CreateSpec carries the arguments createContainer accepts; command, mounts,
// env and workdir are all optional and may be left zero-valued. TaskID,
// Prompt and Inputs are the task payload adapters that speak the stdin/
// stdout worker protocol (spec.md §6) pass through to the executor.
type CreateSpec struct {
	Environment Environment
	Command     []string
	Mounts      []Mount
	Env         map[string]string
	Workdir     string
	Name        string
	TaskID      string
	Prompt      string
	Inputs      map[string]any
}

// WaitResult is what waitForContainer resolves to on normal completion.
type WaitResult struct {
	ExitCode int
	Status   ContainerStatus
}

// LogOptions controls getContainerLogs.
type LogOptions struct {
	Tail       int
	Timestamps bool
}

// Worker is the backend the Pool dispatches tasks to. Containers and
// in-process agents are interchangeable behind this interface (spec.md §4.1).
type Worker interface {
	CreateContainer(ctx context.Context, spec CreateSpec) (ContainerInfo, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, graceSeconds int) error
	RemoveContainer(ctx context.Context, id string, force bool) error

	// WaitForContainer blocks until the container exits or timeoutMs
	// elapses (0 means no deadline). On timeout it returns ErrTimeout and
	// the container's reported status transitions to ContainerTimeout.
	WaitForContainer(ctx context.Context, id string, timeoutMs int) (WaitResult, error)

	GetContainerLogs(ctx context.Context, id string, opts LogOptions) (string, error)

	// Cleanup releases every resource the worker is still holding.
	// Best-effort: a cleanup failure is logged, never surfaced to a task's
	// final status.
	Cleanup(ctx context.Context, force bool) error
}
