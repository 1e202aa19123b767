// Package localproc implements internal/taskpool.Worker by running each
// task as a local, unsandboxed subprocess instead of a container. It
// exists for development and for environments with no container
// runtime; spec.md §6 names it as an allowed Worker adapter alongside
// the Docker- and pod-backed ones.
//
// Grounded on the teacher's internal/tools.HostExecutor, generalized
// from a single synchronous Exec call into the Pool's multi-step
// create/start/wait/logs/stop/remove contract. Drives the exact
// stdin/stdout JSON worker protocol from spec.md §6: the task is handed
// to the subprocess as a stdin `{type:"execute",...}` line and via
// CORTEXOS_* environment variables, and the subprocess's stdout is read
// as newline-delimited `{type:"log"|"progress"|"result"}` JSON.
package localproc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/taskpool"
)

// executePayload is written to the subprocess's stdin before it starts
// (spec.md §6 "Worker protocol").
type executePayload struct {
	Type        string         `json:"type"`
	TaskID      string         `json:"taskId"`
	Prompt      string         `json:"prompt"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Environment string         `json:"environment"`
}

// protocolEvent is one NDJSON line emitted by the subprocess on stdout.
type protocolEvent struct {
	Type string `json:"type"`

	// log
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// progress
	Stage   string  `json:"stage,omitempty"`
	Percent float64 `json:"percent,omitempty"`

	// result
	Status   string `json:"status,omitempty"`
	Output   string `json:"output,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

type tracked struct {
	cmd    *exec.Cmd
	stdin  *bytes.Buffer
	logs   *bytes.Buffer
	stderr *bytes.Buffer
	status taskpool.ContainerStatus
	done   chan struct{}

	mu     sync.Mutex
	result *protocolEvent // the last {type:"result"} event seen, if any
}

// Worker runs tasks as local subprocesses (spec.md §6, "Worker adapter").
// Each "container" is a direct (no shell) invocation of Environment.Command (or
// CreateSpec.Command) with Env/Workdir applied; there is no image pull
// and no resource isolation.
type Worker struct {
	mu    sync.Mutex
	procs map[string]*tracked
}

// New builds a Worker with no tracked processes.
func New() *Worker {
	return &Worker{procs: make(map[string]*tracked)}
}

// CreateContainer implements taskpool.Worker: it builds the *exec.Cmd but
// does not start it. The task payload is staged on stdin and as
// CORTEXOS_* environment variables per the worker protocol.
func (w *Worker) CreateContainer(ctx context.Context, spec taskpool.CreateSpec) (taskpool.ContainerInfo, error) {
	cmd := spec.Command
	if len(cmd) == 0 {
		cmd = spec.Environment.Command
	}
	if len(cmd) == 0 {
		return taskpool.ContainerInfo{}, fmt.Errorf("localproc: no command given by spec or environment")
	}

	workdir := spec.Workdir
	if workdir == "" {
		workdir = spec.Environment.Workdir
	}

	env := make(map[string]string, len(spec.Environment.Env)+len(spec.Env)+4)
	for k, v := range spec.Environment.Env {
		env[k] = v
	}
	for k, v := range spec.Env {
		env[k] = v
	}

	inputsJSON, err := json.Marshal(spec.Inputs)
	if err != nil {
		return taskpool.ContainerInfo{}, fmt.Errorf("localproc: marshal inputs: %w", err)
	}
	env["CORTEXOS_TASK_ID"] = spec.TaskID
	env["CORTEXOS_PROMPT"] = spec.Prompt
	env["CORTEXOS_INPUTS"] = string(inputsJSON)
	env["CORTEXOS_ENVIRONMENT"] = spec.Environment.ID

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	execCmd := exec.Command(cmd[0], cmd[1:]...)
	if workdir != "" {
		execCmd.Dir = workdir
	}
	execCmd.Env = append(execCmd.Environ(), envList...)

	stdin, err := json.Marshal(executePayload{
		Type:        "execute",
		TaskID:      spec.TaskID,
		Prompt:      spec.Prompt,
		Inputs:      spec.Inputs,
		Environment: spec.Environment.ID,
	})
	if err != nil {
		return taskpool.ContainerInfo{}, fmt.Errorf("localproc: marshal execute payload: %w", err)
	}

	t := &tracked{
		cmd:    execCmd,
		stdin:  bytes.NewBuffer(append(stdin, '\n')),
		logs:   &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		status: taskpool.ContainerCreated,
		done:   make(chan struct{}),
	}
	execCmd.Stdin = t.stdin
	execCmd.Stderr = t.stderr

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		return taskpool.ContainerInfo{}, fmt.Errorf("localproc: stdout pipe: %w", err)
	}

	id := uuid.NewString()
	w.mu.Lock()
	w.procs[id] = t
	w.mu.Unlock()

	go t.consumeProtocol(stdout)

	return taskpool.ContainerInfo{
		ID:            uuid.NewString(),
		ContainerID:   id,
		EnvironmentID: spec.Environment.ID,
		Status:        taskpool.ContainerCreated,
		CreatedAt:     time.Now(),
	}, nil
}

// consumeProtocol reads NDJSON lines from the subprocess's stdout,
// classifying each by its "type" field (spec.md §6 "Worker protocol").
// A line that fails to parse as one of the three known event types is
// passed through as a raw log line rather than dropped.
func (t *tracked) consumeProtocol(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev protocolEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.mu.Lock()
			t.logs.WriteString(line)
			t.logs.WriteByte('\n')
			t.mu.Unlock()
			continue
		}

		t.mu.Lock()
		switch ev.Type {
		case "log":
			fmt.Fprintf(t.logs, "[%s] %s\n", ev.Level, ev.Message)
		case "progress":
			fmt.Fprintf(t.logs, "[progress %s] %.0f%% %s\n", ev.Stage, ev.Percent, ev.Message)
		case "result":
			result := ev
			t.result = &result
			fmt.Fprintf(t.logs, "[result %s] %s\n", ev.Status, ev.Output)
		default:
			t.logs.WriteString(line)
			t.logs.WriteByte('\n')
		}
		t.mu.Unlock()
	}
}

func (w *Worker) get(id string) (*tracked, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.procs[id]
	return t, ok
}

// StartContainer implements taskpool.Worker.
func (w *Worker) StartContainer(ctx context.Context, id string) error {
	t, ok := w.get(id)
	if !ok {
		return fmt.Errorf("localproc: unknown process %q", id)
	}
	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("localproc: start process: %w", err)
	}
	w.mu.Lock()
	t.status = taskpool.ContainerRunning
	w.mu.Unlock()

	go func() {
		t.cmd.Wait()
		close(t.done)
	}()
	return nil
}

// StopContainer implements taskpool.Worker by killing the process at
// once. graceSeconds is not used, and only the process itself is
// signaled, not its process group.
func (w *Worker) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	t, ok := w.get(id)
	if !ok {
		return fmt.Errorf("localproc: unknown process %q", id)
	}
	if t.cmd.Process == nil {
		return nil
	}
	if err := t.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("localproc: stop process: %w", err)
	}
	w.mu.Lock()
	t.status = taskpool.ContainerExited
	w.mu.Unlock()
	return nil
}

// RemoveContainer implements taskpool.Worker.
func (w *Worker) RemoveContainer(ctx context.Context, id string, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.procs, id)
	return nil
}

// WaitForContainer implements taskpool.Worker, returning taskpool.ErrTimeout
// and killing the process if timeoutMs elapses first. The exit code
// prefers the worker's own `{type:"result", exitCode}` event over the
// OS process exit code, since a worker may report a logical failure
// while still exiting 0.
func (w *Worker) WaitForContainer(ctx context.Context, id string, timeoutMs int) (taskpool.WaitResult, error) {
	t, ok := w.get(id)
	if !ok {
		return taskpool.WaitResult{}, fmt.Errorf("localproc: unknown process %q", id)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeoutMs > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	select {
	case <-t.done:
		w.mu.Lock()
		t.status = taskpool.ContainerExited
		w.mu.Unlock()

		exitCode := 0
		if t.cmd.ProcessState != nil {
			exitCode = t.cmd.ProcessState.ExitCode()
		}
		t.mu.Lock()
		if t.result != nil && t.result.ExitCode != nil {
			exitCode = *t.result.ExitCode
		} else if t.result != nil && t.result.Status == "failed" && exitCode == 0 {
			exitCode = 1
		}
		t.mu.Unlock()
		return taskpool.WaitResult{ExitCode: exitCode, Status: taskpool.ContainerExited}, nil
	case <-waitCtx.Done():
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		w.mu.Lock()
		t.status = taskpool.ContainerTimeout
		w.mu.Unlock()
		return taskpool.WaitResult{}, taskpool.ErrTimeout
	}
}

// GetContainerLogs implements taskpool.Worker, returning the formatted
// protocol log (log/progress/result events rendered as lines, unparsed
// stdout passed through verbatim) followed by raw stderr.
func (w *Worker) GetContainerLogs(ctx context.Context, id string, opts taskpool.LogOptions) (string, error) {
	t, ok := w.get(id)
	if !ok {
		return "", fmt.Errorf("localproc: unknown process %q", id)
	}
	t.mu.Lock()
	out := t.logs.String() + t.stderr.String()
	t.mu.Unlock()
	if opts.Tail > 0 && len(out) > opts.Tail {
		out = out[len(out)-opts.Tail:]
	}
	return out, nil
}

// Cleanup implements taskpool.Worker: kills and forgets every tracked
// process, best-effort.
func (w *Worker) Cleanup(ctx context.Context, force bool) error {
	w.mu.Lock()
	procs := w.procs
	w.procs = make(map[string]*tracked)
	w.mu.Unlock()

	var firstErr error
	for _, t := range procs {
		if t.cmd.Process == nil {
			continue
		}
		if err := t.cmd.Process.Kill(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
