package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/bus"
)

const defaultTaskTimeout = 5 * time.Minute

// Config wires a Server's dependencies (spec.md §6 "Gateway options").
type Config struct {
	MaxConcurrentTasks int
	TaskTimeout        time.Duration
	Handler            TaskHandler
	Bus                *bus.Bus
	AgentCard          AgentCard
	Logger             *slog.Logger
	LTM                LTMStore

	Auth      AuthConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// DefaultConfig returns spec.md's enumerated Gateway defaults: open CORS,
// no auth, a 5-minute task timeout (spec.md §4.5 "Execution").
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 10,
		TaskTimeout:        defaultTaskTimeout,
		CORS:               CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
	}
}

// Server is the A2A Protocol Gateway: public HTTP surface over a task
// state machine (spec.md §4.5). It owns a mutex protecting every map and
// counter below; execution and push I/O are never run under that lock
// (spec.md §5 "Scheduling model").
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*A2ATask
	order  []string
	active int
	timers map[string]*time.Timer

	brokers  map[string]*taskBroker
	pushSubs map[string][]pushSubscription

	schema     *schemaValidator
	httpClient *http.Client
}

// New builds a Server. A nil cfg.Handler is valid; tasks will sit in
// "working" forever, which is only useful for wiring tests.
func New(cfg Config) (*Server, error) {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 50
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schema, err := newSchemaValidator()
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		tasks:      make(map[string]*A2ATask),
		timers:     make(map[string]*time.Timer),
		brokers:    make(map[string]*taskBroker),
		pushSubs:   make(map[string][]pushSubscription),
		schema:     schema,
		httpClient: &http.Client{Timeout: pushTimeout},
	}, nil
}

// schemaValidator wraps the compiled create-task schema; a separate type
// keeps server.go free of the jsonschema import.
type schemaValidator struct {
	validate func(any) error
}

func newSchemaValidator() (*schemaValidator, error) {
	schema, err := compileCreateTaskSchema()
	if err != nil {
		return nil, err
	}
	return &schemaValidator{validate: func(v any) error { return schema.Validate(v) }}, nil
}

// Handler builds the full mux: health and agent-card unauthenticated,
// everything else behind auth/CORS/rate-limit middleware (spec.md §4.5
// supplemental hardening layer, disabled by default).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.HandleFunc("/a2a/health", s.handleHealth)
	mux.HandleFunc("/a2a/tasks", s.handleTasksCollection)
	mux.HandleFunc("/a2a/tasks/", s.handleTaskItem)
	mux.HandleFunc("/admin/dashboard", s.handleDashboard)
	mux.HandleFunc("/admin/ltm", s.handleAdminLTM)

	var handler http.Handler = mux
	handler = newRateLimitMiddleware(s.cfg.RateLimit).wrap(handler)
	handler = newAuthMiddleware(s.cfg.Auth).wrap(handler)
	handler = newCORSMiddleware(s.cfg.CORS)(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "activeTasks": active})
}

func (s *Server) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createTaskRequest struct {
	Message  Message        `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleCreateTask implements POST /a2a/tasks (spec.md §4.5).
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var raw any
	body := json.NewDecoder(r.Body)
	if err := body.Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed JSON body"})
		return
	}
	if err := s.schema.validate(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": validationErrors(err)})
		return
	}

	remarshaled, _ := json.Marshal(raw)
	var req createTaskRequest
	if err := json.Unmarshal(remarshaled, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed message shape"})
		return
	}

	s.mu.Lock()
	if s.active >= s.cfg.MaxConcurrentTasks {
		s.mu.Unlock()
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "too many concurrent tasks"})
		return
	}

	now := time.Now()
	task := &A2ATask{
		ID:        uuid.NewString(),
		Status:    StatusSubmitted,
		Input:     req.Message,
		History:   []Message{req.Message},
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.active++
	s.mu.Unlock()

	s.publishBus(bus.TopicA2ATaskCreated, task.ID, string(task.Status))
	s.transitionAndRun(task.ID)

	writeJSON(w, http.StatusCreated, task.snapshot())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	summaries := make([]TaskSummary, 0, len(s.order))
	for _, id := range s.order {
		t := s.tasks[id]
		summaries = append(summaries, TaskSummary{ID: t.ID, Status: t.Status, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt})
	}
	s.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CreatedAt.Before(summaries[j].CreatedAt) })
	writeJSON(w, http.StatusOK, summaries)
}

// handleTaskItem dispatches every /a2a/tasks/{id}[/action] route.
func (s *Server) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	id, action := splitTaskPath(r.URL.Path)
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		if r.Header.Get("Accept") == "text/event-stream" {
			s.handleSubscribe(w, r, id)
			return
		}
		s.handleGetTask(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleCancelTask(w, r, id)
	case action == "input" && r.Method == http.MethodPost:
		s.handleInputTask(w, r, id)
	case action == "subscribe" && r.Method == http.MethodGet:
		s.handleSubscribe(w, r, id)
	case action == "push" && r.Method == http.MethodPost:
		s.handlePushSubscribe(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	var snap A2ATask
	if ok {
		snap = t.snapshot()
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCancelTask implements POST /a2a/tasks/{id}/cancel: a no-op on
// terminal tasks (spec.md §4.5 "State machine").
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if t.Status.Terminal() {
		snap := t.snapshot()
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, snap)
		return
	}
	s.setStatusLocked(t, StatusCanceled)
	snap := t.snapshot()
	s.mu.Unlock()

	s.finishTask(id)
	writeJSON(w, http.StatusOK, snap)
}

type inputRequest struct {
	Message Message `json:"message"`
}

// handleInputTask implements POST /a2a/tasks/{id}/input: valid only in
// input-required (spec.md §4.5).
func (s *Server) handleInputTask(w http.ResponseWriter, r *http.Request, id string) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed JSON body"})
		return
	}

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if t.Status != StatusInputRequired {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"error": "task is not awaiting input"})
		return
	}
	t.History = append(t.History, req.Message)
	s.setStatusLocked(t, StatusWorking)
	s.mu.Unlock()

	s.transitionAndRun(id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	_, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	broker, ok := s.brokers[id]
	if !ok {
		broker = newTaskBroker()
		s.brokers[id] = broker
	}
	s.mu.Unlock()

	subID, ch := broker.subscribe()
	defer broker.unsubscribe(subID)

	writeSSE(w, r, ch, s.logger)
}

type pushRequest struct {
	URL      string   `json:"url"`
	Statuses []Status `json:"statuses,omitempty"`
}

// handlePushSubscribe implements POST /a2a/tasks/{id}/push.
func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request, id string) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "a non-empty url is required"})
		return
	}

	statuses := make(map[Status]bool, len(req.Statuses))
	for _, st := range req.Statuses {
		statuses[st] = true
	}

	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	s.pushSubs[id] = append(s.pushSubs[id], pushSubscription{URL: req.URL, Statuses: statuses})
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"status": "registered"})
}

// setStatusLocked transitions t and stamps UpdatedAt. Caller must hold
// s.mu; it notifies no one, and callers broadcast the change themselves
// after releasing the lock where applicable.
func (s *Server) setStatusLocked(t *A2ATask, status Status) {
	t.Status = status
	t.UpdatedAt = time.Now()
}

// transitionAndRun moves a submitted/input-required task into working and
// hands it to the configured handler in its own goroutine, the explicit
// suspension point spec.md §5 calls out ("Gateway waiting for the
// task-handler to return").
func (s *Server) transitionAndRun(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.setStatusLocked(t, StatusWorking)
	snap := t.snapshot()
	s.stopTimerLocked(id)
	s.mu.Unlock()

	s.broadcast(id, snap)

	if s.cfg.Handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	s.mu.Lock()
	s.timers[id] = time.AfterFunc(s.cfg.TaskTimeout, func() { s.onTimeout(id) })
	s.mu.Unlock()

	go func() {
		defer cancel()
		result, err := s.cfg.Handler.Handle(ctx, snap)

		s.mu.Lock()
		t, ok := s.tasks[id]
		if !ok || t.Status.Terminal() {
			s.mu.Unlock()
			return
		}
		s.stopTimerLocked(id)
		if err != nil {
			t.Status = StatusFailed
			msg := Message{Role: "system", Parts: []Part{{Type: "text", Text: err.Error()}}}
			t.Output = &msg
		} else {
			if result.Status == "" {
				result.Status = StatusCompleted
			}
			t.Status = result.Status
			t.Output = result.Output
			if result.Artifacts != nil {
				t.Artifacts = result.Artifacts
			}
		}
		t.UpdatedAt = time.Now()
		finished := t.Status.Terminal()
		updated := t.snapshot()
		s.mu.Unlock()

		s.broadcast(id, updated)
		if finished {
			s.finishTask(id)
		}
	}()
}

// onTimeout implements spec.md §4.5's 5-minute task timeout: "if the task
// is still working at that moment, transition to failed".
func (s *Server) onTimeout(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.Status != StatusWorking {
		s.mu.Unlock()
		return
	}
	t.Status = StatusFailed
	msg := Message{Role: "system", Parts: []Part{{Type: "text", Text: "Task timed out"}}}
	t.Output = &msg
	t.UpdatedAt = time.Now()
	snap := t.snapshot()
	s.mu.Unlock()

	s.broadcast(id, snap)
	s.finishTask(id)
}

func (s *Server) stopTimerLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// finishTask decrements the active counter and fires push notifications;
// push I/O runs outside any lock (spec.md §5 "long-running I/O is never
// held under the mutex").
func (s *Server) finishTask(id string) {
	s.mu.Lock()
	s.stopTimerLocked(id)
	if s.active > 0 {
		s.active--
	}
	t, ok := s.tasks[id]
	var snap A2ATask
	var subs []pushSubscription
	if ok {
		snap = t.snapshot()
		subs = append(subs, s.pushSubs[id]...)
	}
	if broker, ok := s.brokers[id]; ok {
		broker.closeAll()
		delete(s.brokers, id)
	}
	s.mu.Unlock()

	s.publishBus(bus.TopicA2ATaskCompleted, id, string(snap.Status))
	for _, sub := range subs {
		if sub.matches(snap.Status) {
			go dispatchPush(s.httpClient, s.logger, sub, snap)
		}
	}
}

func (s *Server) broadcast(id string, task A2ATask) {
	s.mu.Lock()
	broker, ok := s.brokers[id]
	s.mu.Unlock()
	if ok {
		broker.publish(sseEvent{Type: "status", Task: task})
	}
	s.publishBus(bus.TopicA2ATaskUpdated, id, string(task.Status))
}

func (s *Server) publishBus(topic, taskID, status string) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(topic, bus.A2ATaskEvent{TaskID: taskID, Status: status})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// splitTaskPath parses "/a2a/tasks/{id}" or "/a2a/tasks/{id}/{action}".
func splitTaskPath(path string) (id, action string) {
	const prefix = "/a2a/tasks/"
	if len(path) <= len(prefix) {
		return "", ""
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}
