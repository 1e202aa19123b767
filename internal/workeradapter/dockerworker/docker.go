// Package dockerworker implements internal/taskpool.Worker by running
// each task in its own ephemeral Docker container, grounded on the
// teacher's internal/tools.DockerSandbox.
package dockerworker

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/taskpool"
)

// Worker runs tasks as ephemeral Docker containers (spec.md §6, "Worker
// adapter"). Every container is created with AutoRemove disabled so
// GetContainerLogs and explicit RemoveContainer calls still work after
// exit; Cleanup removes every container still tracked, forcing removal
// only when its force argument is set.
type Worker struct {
	client *client.Client

	mu     sync.Mutex
	status map[string]taskpool.ContainerStatus // containerID -> status
}

// New builds a Worker backed by the Docker client found in the host
// environment (DOCKER_HOST, or the local daemon socket).
func New() (*Worker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerworker: docker client: %w", err)
	}
	return &Worker{client: cli, status: make(map[string]taskpool.ContainerStatus)}, nil
}

func (w *Worker) setStatus(id string, s taskpool.ContainerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status[id] = s
}

// CreateContainer implements taskpool.Worker.
func (w *Worker) CreateContainer(ctx context.Context, spec taskpool.CreateSpec) (taskpool.ContainerInfo, error) {
	image := spec.Environment.Image
	if image == "" {
		image = "golang:alpine"
	}

	cmd := spec.Command
	if len(cmd) == 0 {
		cmd = spec.Environment.Command
	}

	workdir := spec.Workdir
	if workdir == "" {
		workdir = spec.Environment.Workdir
	}
	if workdir == "" {
		workdir = "/workspace"
	}

	env := make([]string, 0, len(spec.Env)+len(spec.Environment.Env))
	for k, v := range spec.Environment.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	var binds []string
	for _, m := range spec.Mounts {
		bind := m.HostPath + ":" + m.ContainerPath
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	resp, err := w.client.ContainerCreate(ctx, &container.Config{
		Image:      image,
		Cmd:        cmd,
		Env:        env,
		WorkingDir: workdir,
		Tty:        false,
	}, &container.HostConfig{
		Binds:       binds,
		NetworkMode: container.NetworkMode("bridge"),
	}, nil, nil, spec.Name)
	if err != nil {
		return taskpool.ContainerInfo{}, fmt.Errorf("dockerworker: create container: %w", err)
	}

	now := time.Now()
	w.setStatus(resp.ID, taskpool.ContainerCreated)
	return taskpool.ContainerInfo{
		ID:            uuid.NewString(),
		ContainerID:   resp.ID,
		EnvironmentID: spec.Environment.ID,
		Status:        taskpool.ContainerCreated,
		CreatedAt:     now,
	}, nil
}

// StartContainer implements taskpool.Worker.
func (w *Worker) StartContainer(ctx context.Context, id string) error {
	if err := w.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("dockerworker: start container: %w", err)
	}
	w.setStatus(id, taskpool.ContainerRunning)
	return nil
}

// StopContainer implements taskpool.Worker.
func (w *Worker) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	timeout := graceSeconds
	if err := w.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("dockerworker: stop container: %w", err)
	}
	w.setStatus(id, taskpool.ContainerExited)
	return nil
}

// RemoveContainer implements taskpool.Worker.
func (w *Worker) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := w.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("dockerworker: remove container: %w", err)
	}
	w.mu.Lock()
	delete(w.status, id)
	w.mu.Unlock()
	return nil
}

// WaitForContainer implements taskpool.Worker. On timeout it kills the
// container, marks it ContainerTimeout, and returns taskpool.ErrTimeout
// (spec.md §6, "Worker adapter").
func (w *Worker) WaitForContainer(ctx context.Context, id string, timeoutMs int) (taskpool.WaitResult, error) {
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeoutMs > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	statusCh, errCh := w.client.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return taskpool.WaitResult{}, fmt.Errorf("dockerworker: wait container: %w", err)
	case status := <-statusCh:
		exitStatus := taskpool.ContainerExited
		w.setStatus(id, exitStatus)
		return taskpool.WaitResult{ExitCode: int(status.StatusCode), Status: exitStatus}, nil
	case <-waitCtx.Done():
		_ = w.client.ContainerKill(ctx, id, "SIGKILL")
		w.setStatus(id, taskpool.ContainerTimeout)
		return taskpool.WaitResult{}, taskpool.ErrTimeout
	}
}

// GetContainerLogs implements taskpool.Worker.
func (w *Worker) GetContainerLogs(ctx context.Context, id string, opts taskpool.LogOptions) (string, error) {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: opts.Timestamps,
	}
	if opts.Tail > 0 {
		logOpts.Tail = fmt.Sprintf("%d", opts.Tail)
	}

	out, err := w.client.ContainerLogs(ctx, id, logOpts)
	if err != nil {
		return "", fmt.Errorf("dockerworker: get logs: %w", err)
	}
	defer out.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out); err != nil {
		return "", fmt.Errorf("dockerworker: demux logs: %w", err)
	}
	return stdoutBuf.String() + stderrBuf.String(), nil
}

// Cleanup implements taskpool.Worker: removes every container this
// Worker has created that is still tracked, best-effort, with Docker's
// Force option set from force.
func (w *Worker) Cleanup(ctx context.Context, force bool) error {
	w.mu.Lock()
	ids := make([]string, 0, len(w.status))
	for id := range w.status {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := w.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.mu.Lock()
	w.status = make(map[string]taskpool.ContainerStatus)
	w.mu.Unlock()
	return firstErr
}

// Close releases the underlying Docker client.
func (w *Worker) Close() error {
	return w.client.Close()
}
