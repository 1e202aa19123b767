package localproc

import (
	"context"
	"strings"
	"testing"

	"github.com/cortexos/kernel/internal/taskpool"
)

func TestLifecycle_RunsCommandAndCapturesLogs(t *testing.T) {
	w := New()
	ctx := context.Background()

	info, err := w.CreateContainer(ctx, taskpool.CreateSpec{
		Environment: taskpool.Environment{ID: "env-1"},
		Command:     []string{"sh", "-c", "echo hello"},
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	if err := w.StartContainer(ctx, info.ContainerID); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	result, err := w.WaitForContainer(ctx, info.ContainerID, 5000)
	if err != nil {
		t.Fatalf("WaitForContainer: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}

	logs, err := w.GetContainerLogs(ctx, info.ContainerID, taskpool.LogOptions{})
	if err != nil {
		t.Fatalf("GetContainerLogs: %v", err)
	}
	if !strings.Contains(logs, "hello") {
		t.Fatalf("expected logs to contain 'hello', got %q", logs)
	}

	if err := w.RemoveContainer(ctx, info.ContainerID, false); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}
}

func TestWaitForContainer_TimesOutOnLongRunningCommand(t *testing.T) {
	w := New()
	ctx := context.Background()

	info, err := w.CreateContainer(ctx, taskpool.CreateSpec{
		Environment: taskpool.Environment{ID: "env-1"},
		Command:     []string{"sleep", "5"},
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if err := w.StartContainer(ctx, info.ContainerID); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	_, err = w.WaitForContainer(ctx, info.ContainerID, 50)
	if err != taskpool.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCreateContainer_RequiresACommand(t *testing.T) {
	w := New()
	_, err := w.CreateContainer(context.Background(), taskpool.CreateSpec{
		Environment: taskpool.Environment{ID: "env-1"},
	})
	if err == nil {
		t.Fatal("expected error when no command is given")
	}
}

func TestLifecycle_DrivesWorkerProtocolAndPreferesResultExitCode(t *testing.T) {
	w := New()
	ctx := context.Background()

	script := `read line; ` +
		`echo "{\"type\":\"log\",\"level\":\"info\",\"message\":\"task $CORTEXOS_TASK_ID\"}"; ` +
		`echo "{\"type\":\"progress\",\"stage\":\"run\",\"percent\":50}"; ` +
		`echo "{\"type\":\"result\",\"status\":\"failed\",\"output\":\"boom\",\"exitCode\":7}"`

	info, err := w.CreateContainer(ctx, taskpool.CreateSpec{
		Environment: taskpool.Environment{ID: "env-1"},
		Command:     []string{"sh", "-c", script},
		TaskID:      "task-42",
		Prompt:      "do the thing",
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if err := w.StartContainer(ctx, info.ContainerID); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	result, err := w.WaitForContainer(ctx, info.ContainerID, 5000)
	if err != nil {
		t.Fatalf("WaitForContainer: %v", err)
	}
	if result.ExitCode != 7 {
		t.Fatalf("expected the reported result exit code 7 to win over the process exit code, got %d", result.ExitCode)
	}

	logs, err := w.GetContainerLogs(ctx, info.ContainerID, taskpool.LogOptions{})
	if err != nil {
		t.Fatalf("GetContainerLogs: %v", err)
	}
	if !strings.Contains(logs, "task task-42") {
		t.Fatalf("expected the stdin execute payload's taskId to reach the subprocess via CORTEXOS_TASK_ID, got %q", logs)
	}
	if !strings.Contains(logs, "progress run") || !strings.Contains(logs, "result failed") {
		t.Fatalf("expected formatted progress and result log lines, got %q", logs)
	}
}

func TestCleanup_KillsTrackedProcesses(t *testing.T) {
	w := New()
	ctx := context.Background()

	info, err := w.CreateContainer(ctx, taskpool.CreateSpec{
		Environment: taskpool.Environment{ID: "env-1"},
		Command:     []string{"sleep", "5"},
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if err := w.StartContainer(ctx, info.ContainerID); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	if err := w.Cleanup(ctx, true); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(w.procs) != 0 {
		t.Fatalf("expected no tracked processes after cleanup, got %d", len(w.procs))
	}
}
