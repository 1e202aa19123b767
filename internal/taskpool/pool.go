package taskpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/bus"
)

const defaultContainerTimeout = 5 * time.Minute

// Event is delivered to a task's optional onEvent callback and to pool-wide
// listeners registered via OnEvent.
type Event struct {
	TaskID string
	Status Status
	Error  string
}

// Config configures a Pool (spec.md §6, "Pool").
type Config struct {
	MaxContainers      int
	DefaultEnvironment string
	ContainerTimeout   time.Duration
}

// SubmitOptions carries the optional arguments to Submit.
type SubmitOptions struct {
	Role        string
	Environment string
	Inputs      map[string]any
	Mounts      []Mount
	OnEvent     func(Event)
}

// Stats is the pure-read snapshot returned by GetStats.
type Stats struct {
	QueuedTasks    int
	ActiveTasks    int
	CompletedTasks int
	FailedTasks    int
	CancelledTasks int
}

type runningOp struct {
	cancel      context.CancelFunc
	containerID string
}

// Pool is the bounded-concurrency FIFO dispatcher described in spec.md §4.1.
type Pool struct {
	cfg    Config
	envs   *EnvironmentRegistry
	worker Worker
	bus    *bus.Bus
	logger *slog.Logger

	mu        sync.Mutex
	tasks     map[string]*Task
	order     []string // insertion order, for stable getTasks sorting
	queue     []*Task
	active    int
	running   map[string]*runningOp
	listeners []func(Event)
	completed int
	failed    int
	cancelled int
	draining  bool
	idle      *sync.Cond
}

// New builds a Pool. worker must not be nil; envs may be empty and populated
// later via EnvironmentRegistry.Register.
func New(cfg Config, envs *EnvironmentRegistry, worker Worker, eventBus *bus.Bus, logger *slog.Logger) *Pool {
	if cfg.MaxContainers <= 0 {
		cfg.MaxContainers = 1
	}
	if cfg.ContainerTimeout <= 0 {
		cfg.ContainerTimeout = defaultContainerTimeout
	}
	p := &Pool{
		cfg:     cfg,
		envs:    envs,
		worker:  worker,
		bus:     eventBus,
		logger:  logger,
		tasks:   make(map[string]*Task),
		running: make(map[string]*runningOp),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// OnEvent registers a pool-wide listener for every task lifecycle event.
// Listener panics are recovered and swallowed (spec.md §4.1 failure
// semantics: "Listener callbacks that themselves throw are swallowed.").
func (p *Pool) OnEvent(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Submit always succeeds and returns a task in StatusQueued; admission is
// immediate if active < maxContainers, otherwise it is appended to the FIFO
// queue (spec.md §4.1 "Public contract").
func (p *Pool) Submit(prompt string, opts SubmitOptions) *Task {
	env := opts.Environment
	if env == "" {
		env = p.cfg.DefaultEnvironment
	}
	task := &Task{
		ID:          uuid.NewString(),
		Role:        opts.Role,
		Prompt:      prompt,
		Inputs:      opts.Inputs,
		Environment: env,
		Mounts:      opts.Mounts,
		CreatedAt:   time.Now(),
		Status:      StatusQueued,
		onEvent:     opts.OnEvent,
	}

	p.mu.Lock()
	p.tasks[task.ID] = task
	p.order = append(p.order, task.ID)
	admit := p.active < p.cfg.MaxContainers && !p.draining
	if admit {
		p.active++
	} else {
		p.queue = append(p.queue, task)
	}
	p.mu.Unlock()

	p.emit(task, Event{TaskID: task.ID, Status: StatusQueued})
	p.publish(bus.TopicContainerQueued, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(StatusQueued)})

	if admit {
		go p.execute(task)
	}
	return task
}

// Cancel is idempotent. A queued task is removed and set cancelled; a
// running task is asked to stop, then removed, transitioned to cancelled,
// and its slot released (spec.md §4.1).
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	task, ok := p.tasks[taskID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	if task.Status.Terminal() {
		p.mu.Unlock()
		return false
	}

	if task.Status == StatusQueued {
		for i, t := range p.queue {
			if t.ID == taskID {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				break
			}
		}
		p.finishLocked(task, StatusCancelled, "")
		p.mu.Unlock()
		p.emit(task, Event{TaskID: task.ID, Status: StatusCancelled})
		p.publish(bus.TopicContainerCancelled, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(StatusCancelled)})
		return true
	}

	op, running := p.running[taskID]
	p.mu.Unlock()

	if running {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if op.containerID != "" {
			_ = p.worker.StopContainer(ctx, op.containerID, 5)
		}
		op.cancel()
	}
	return true
}

// GetTask returns a snapshot of the task, if known.
func (p *Pool) GetTask(taskID string) (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return task.Snapshot(), true
}

// GetTasks returns every known task, stably sorted by CreatedAt descending.
func (p *Pool) GetTasks() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.tasks[id].Snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// GetStats returns a pure-read snapshot of pool occupancy and outcomes.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		QueuedTasks:    len(p.queue),
		ActiveTasks:    p.active,
		CompletedTasks: p.completed,
		FailedTasks:    p.failed,
		CancelledTasks: p.cancelled,
	}
}

// Shutdown cancels every queued task, instructs the Worker backend to
// release every running resource (best-effort), and waits for active == 0
// or ctx's deadline, whichever comes first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	queued := p.queue
	p.queue = nil
	for _, task := range queued {
		p.finishLocked(task, StatusCancelled, "")
	}
	running := make([]*runningOp, 0, len(p.running))
	for _, op := range p.running {
		running = append(running, op)
	}
	p.mu.Unlock()

	for _, task := range queued {
		p.emit(task, Event{TaskID: task.ID, Status: StatusCancelled})
		p.publish(bus.TopicContainerCancelled, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(StatusCancelled)})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, op := range running {
		if op.containerID != "" {
			_ = p.worker.StopContainer(stopCtx, op.containerID, 5)
		}
	}

	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.active > 0 {
			p.idle.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return p.worker.Cleanup(context.Background(), true)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs the full execution contract for a single admitted task
// (spec.md §4.1 "Execution contract", steps 2-6; step 1 already happened in
// Submit/processQueue for queued tasks, here we resolve the environment as
// the first action of the goroutine so a bad environment never consumes a
// worker call).
func (p *Pool) execute(task *Task) {
	env, ok := p.envs.Resolve(task.Environment)
	if !ok {
		p.mu.Lock()
		p.active--
		p.finishLocked(task, StatusFailed, fmt.Sprintf("Environment %s not found", task.Environment))
		p.mu.Unlock()
		p.emit(task, Event{TaskID: task.ID, Status: StatusFailed, Error: task.Error})
		p.publish(bus.TopicContainerFailed, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(StatusFailed), Error: task.Error})
		p.processQueue()
		return
	}

	now := time.Now()
	p.mu.Lock()
	task.Status = StatusRunning
	task.StartedAt = &now
	p.mu.Unlock()
	p.emit(task, Event{TaskID: task.ID, Status: StatusRunning})
	p.publish(bus.TopicContainerCreated, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(StatusRunning)})
	p.publish(bus.TopicContainerStarted, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(StatusRunning)})

	timeout := env.effectiveTimeout(p.cfg.ContainerTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	status, resultText, errText := p.runOnWorker(ctx, task, env)
	cancel()

	p.mu.Lock()
	delete(p.running, task.ID)
	p.active--
	task.Result = resultText
	p.finishLocked(task, status, errText)
	p.mu.Unlock()

	p.emit(task, Event{TaskID: task.ID, Status: status, Error: errText})
	switch status {
	case StatusCompleted:
		p.publish(bus.TopicContainerCompleted, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(status)})
	case StatusCancelled:
		p.publish(bus.TopicContainerCancelled, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(status)})
	default:
		p.publish(bus.TopicContainerFailed, bus.ContainerStateChangedEvent{TaskID: task.ID, NewStatus: string(status), Error: errText})
	}

	p.processQueue()
}

// runOnWorker drives steps 3-5 of the execution contract against the Worker
// backend. Cleanup is best-effort and never changes the returned status.
func (p *Pool) runOnWorker(ctx context.Context, task *Task, env Environment) (Status, string, string) {
	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()

	info, err := p.worker.CreateContainer(opCtx, CreateSpec{
		Environment: env,
		Command:     env.Command,
		Mounts:      task.Mounts,
		Env:         env.Env,
		Workdir:     env.Workdir,
		Name:        task.ID,
		TaskID:      task.ID,
		Prompt:      task.Prompt,
		Inputs:      task.Inputs,
	})
	if err != nil {
		return StatusFailed, "", err.Error()
	}

	p.mu.Lock()
	task.ContainerID = info.ContainerID
	p.running[task.ID] = &runningOp{cancel: opCancel, containerID: info.ContainerID}
	p.mu.Unlock()

	defer func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_ = p.worker.RemoveContainer(cleanupCtx, info.ContainerID, true)
		_ = p.worker.Cleanup(cleanupCtx, false)
	}()

	if err := p.worker.StartContainer(opCtx, info.ContainerID); err != nil {
		return StatusFailed, "", err.Error()
	}

	deadline, hasDeadline := opCtx.Deadline()
	timeoutMs := 0
	if hasDeadline {
		timeoutMs = int(time.Until(deadline) / time.Millisecond)
	}

	result, err := p.worker.WaitForContainer(opCtx, info.ContainerID, timeoutMs)
	if err != nil {
		if errors.Is(opCtx.Err(), context.Canceled) {
			return StatusCancelled, "", ""
		}
		if errors.Is(err, ErrTimeout) || errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			_ = p.worker.StopContainer(context.Background(), info.ContainerID, 5)
			return StatusFailed, "", "timeout waiting for container"
		}
		return StatusFailed, "", err.Error()
	}

	logs, _ := p.worker.GetContainerLogs(context.Background(), info.ContainerID, LogOptions{})

	if result.ExitCode != 0 {
		return StatusFailed, logs, fmt.Sprintf("Container exited with code %d", result.ExitCode)
	}
	return StatusCompleted, logs, ""
}

// processQueue admits tasks from the head of the queue until it is empty or
// active == maxContainers (spec.md §4.1 "Queueing discipline"). Cancelled
// queued tasks are skipped silently.
func (p *Pool) processQueue() {
	for {
		p.mu.Lock()
		if p.draining || p.active >= p.cfg.MaxContainers || len(p.queue) == 0 {
			if p.active == 0 {
				p.idle.Broadcast()
			}
			p.mu.Unlock()
			return
		}
		next := p.queue[0]
		p.queue = p.queue[1:]
		if next.Status == StatusCancelled {
			p.mu.Unlock()
			continue
		}
		p.active++
		p.mu.Unlock()
		go p.execute(next)
		return
	}
}

// finishLocked stamps a terminal status and updates counters. Caller must
// hold p.mu.
func (p *Pool) finishLocked(task *Task, status Status, errText string) {
	now := time.Now()
	task.Status = status
	task.CompletedAt = &now
	if errText != "" {
		task.Error = errText
	}
	switch status {
	case StatusCompleted:
		p.completed++
	case StatusFailed:
		p.failed++
	case StatusCancelled:
		p.cancelled++
	}
	if p.active == 0 {
		p.idle.Broadcast()
	}
}

// publish is a nil-safe wrapper around the event bus; a Pool built without
// one simply skips publication.
func (p *Pool) publish(topic string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(topic, payload)
}

// emit fans a task event out to its own onEvent callback and every pool-wide
// listener. Panics are recovered per spec.md §4.1: "Listener callbacks that
// themselves throw are swallowed."
func (p *Pool) emit(task *Task, ev Event) {
	p.mu.Lock()
	listeners := append([]func(Event){}, p.listeners...)
	onEvent := task.onEvent
	p.mu.Unlock()

	safeCall := func(fn func(Event)) {
		defer func() { _ = recover() }()
		fn(ev)
	}
	if onEvent != nil {
		safeCall(onEvent)
	}
	for _, l := range listeners {
		safeCall(l)
	}
}
