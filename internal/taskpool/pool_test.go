package taskpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/bus"
)

// fakeWorker simulates containers that "run" for a fixed duration before
// exiting 0, grounded on the teacher's shell-free DockerSandbox.Exec pattern
// but driven purely by timers instead of an external daemon.
type fakeWorker struct {
	runFor time.Duration

	mu      sync.Mutex
	infos   map[string]ContainerInfo
	started []string
}

func newFakeWorker(runFor time.Duration) *fakeWorker {
	return &fakeWorker{runFor: runFor, infos: make(map[string]ContainerInfo)}
}

func (f *fakeWorker) CreateContainer(ctx context.Context, spec CreateSpec) (ContainerInfo, error) {
	id := uuid.NewString()
	info := ContainerInfo{ID: id, ContainerID: id, EnvironmentID: spec.Environment.ID, Status: ContainerCreated, CreatedAt: time.Now()}
	f.mu.Lock()
	f.infos[id] = info
	f.mu.Unlock()
	return info, nil
}

func (f *fakeWorker) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	f.started = append(f.started, id)
	info := f.infos[id]
	info.Status = ContainerRunning
	f.infos[id] = info
	f.mu.Unlock()
	return nil
}

func (f *fakeWorker) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	return nil
}

func (f *fakeWorker) RemoveContainer(ctx context.Context, id string, force bool) error {
	return nil
}

func (f *fakeWorker) WaitForContainer(ctx context.Context, id string, timeoutMs int) (WaitResult, error) {
	select {
	case <-time.After(f.runFor):
		return WaitResult{ExitCode: 0, Status: ContainerExited}, nil
	case <-ctx.Done():
		return WaitResult{}, ctx.Err()
	}
}

func (f *fakeWorker) GetContainerLogs(ctx context.Context, id string, opts LogOptions) (string, error) {
	return "ok", nil
}

func (f *fakeWorker) Cleanup(ctx context.Context, force bool) error { return nil }

func testRegistry() *EnvironmentRegistry {
	return NewEnvironmentRegistry(Environment{ID: "default", TimeoutMs: 2000})
}

// TestPool_FIFO covers the concrete scenario from spec.md §8: with
// maxContainers=2, three tasks submitted in order run T1 and T2 concurrently
// while T3 waits, finishing in submission order.
func TestPool_FIFO(t *testing.T) {
	worker := newFakeWorker(50 * time.Millisecond)
	eventBus := bus.New()
	pool := New(Config{MaxContainers: 2, DefaultEnvironment: "default"}, testRegistry(), worker, eventBus, nil)

	var completionOrder []string
	var mu sync.Mutex
	pool.OnEvent(func(ev Event) {
		if ev.Status != StatusCompleted && ev.Status != StatusFailed {
			return
		}
		mu.Lock()
		completionOrder = append(completionOrder, ev.TaskID)
		mu.Unlock()
	})

	t1 := pool.Submit("t1", SubmitOptions{})
	t2 := pool.Submit("t2", SubmitOptions{})
	t3 := pool.Submit("t3", SubmitOptions{})

	stats := pool.GetStats()
	if stats.ActiveTasks != 2 || stats.QueuedTasks != 1 {
		t.Fatalf("expected 2 active / 1 queued immediately after submit, got %+v", stats)
	}

	deadline := time.After(2 * time.Second)
	for {
		stats := pool.GetStats()
		if stats.CompletedTasks == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for completion, stats=%+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completionOrder) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(completionOrder))
	}
	want := []string{t1.ID, t2.ID, t3.ID}
	for i, id := range want {
		if completionOrder[i] != id {
			t.Fatalf("completion order mismatch at %d: want %s got %s (%v)", i, id, completionOrder[i], completionOrder)
		}
	}

	final := pool.GetStats()
	if final.CompletedTasks != 3 {
		t.Fatalf("expected completedTasks=3, got %d", final.CompletedTasks)
	}
}

// TestPool_CancelQueued covers the second concrete scenario from spec.md §8:
// cancelling a queued task leaves the running task unaffected.
func TestPool_CancelQueued(t *testing.T) {
	worker := newFakeWorker(200 * time.Millisecond)
	pool := New(Config{MaxContainers: 1, DefaultEnvironment: "default"}, testRegistry(), worker, bus.New(), nil)

	t1 := pool.Submit("t1", SubmitOptions{})
	t2 := pool.Submit("t2", SubmitOptions{})

	if ok := pool.Cancel(t2.ID); !ok {
		t.Fatalf("expected cancel to succeed for queued task")
	}
	snap, ok := pool.GetTask(t2.ID)
	if !ok || snap.Status != StatusCancelled {
		t.Fatalf("expected t2 cancelled, got %+v (ok=%v)", snap, ok)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap, _ := pool.GetTask(t1.ID)
		if snap.Status == StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("t1 did not complete in time, status=%s", snap.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestPool_EnvironmentNotFound verifies step 1 of the execution contract:
// an unknown environment fails the task without consuming a slot.
func TestPool_EnvironmentNotFound(t *testing.T) {
	worker := newFakeWorker(10 * time.Millisecond)
	pool := New(Config{MaxContainers: 1}, NewEnvironmentRegistry(), worker, bus.New(), nil)

	task := pool.Submit("hello", SubmitOptions{Environment: "missing"})

	deadline := time.After(time.Second)
	for {
		snap, _ := pool.GetTask(task.ID)
		if snap.Status == StatusFailed {
			if snap.Error == "" {
				t.Fatalf("expected error message on failed task")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task never failed, status=%s", snap.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestPool_Shutdown verifies queued tasks are cancelled and Shutdown returns
// once all active work drains.
func TestPool_Shutdown(t *testing.T) {
	worker := newFakeWorker(30 * time.Millisecond)
	pool := New(Config{MaxContainers: 1, DefaultEnvironment: "default"}, testRegistry(), worker, bus.New(), nil)

	pool.Submit("t1", SubmitOptions{})
	t2 := pool.Submit("t2", SubmitOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	snap, _ := pool.GetTask(t2.ID)
	if snap.Status != StatusCancelled {
		t.Fatalf("expected queued task cancelled on shutdown, got %s", snap.Status)
	}
	if pool.GetStats().ActiveTasks != 0 {
		t.Fatalf("expected active==0 after shutdown")
	}
}

// TestPool_ListenerPanicSwallowed ensures a panicking listener never takes
// down task execution.
func TestPool_ListenerPanicSwallowed(t *testing.T) {
	worker := newFakeWorker(5 * time.Millisecond)
	pool := New(Config{MaxContainers: 1, DefaultEnvironment: "default"}, testRegistry(), worker, bus.New(), nil)

	var calls atomic.Int32
	pool.OnEvent(func(ev Event) {
		calls.Add(1)
		panic("boom")
	})

	task := pool.Submit("hi", SubmitOptions{})

	deadline := time.After(time.Second)
	for {
		snap, _ := pool.GetTask(task.ID)
		if snap.Status.Terminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached a terminal state")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if calls.Load() == 0 {
		t.Fatalf("expected listener to have been invoked")
	}
}
