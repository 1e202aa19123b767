package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func validMessageBody() string {
	return `{"message":{"role":"user","parts":[{"type":"text","text":"hello"}]}}`
}

func newTestServer(t *testing.T, handler TaskHandler) *Server {
	t.Helper()
	s, err := New(Config{
		MaxConcurrentTasks: 2,
		TaskTimeout:        2 * time.Second,
		Handler:            handler,
		CORS:               CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateTask_CompletesViaHandler(t *testing.T) {
	handler := TaskHandlerFunc(func(ctx context.Context, task A2ATask) (HandlerResult, error) {
		return HandlerResult{Status: StatusCompleted, Output: &Message{Role: "agent", Parts: []Part{{Type: "text", Text: "done"}}}}, nil
	})
	s := newTestServer(t, handler)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var task A2ATask
	json.NewDecoder(resp.Body).Decode(&task)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		getResp, _ := http.Get(srv.URL + "/a2a/tasks/" + task.ID)
		var got A2ATask
		json.NewDecoder(getResp.Body).Decode(&got)
		getResp.Body.Close()
		if got.Status == StatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task never reached completed")
}

func TestCreateTask_MalformedBodyReturns400(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(`{"message":{"role":"user","parts":[]}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty parts, got %d", resp.StatusCode)
	}
}

func TestCreateTask_TooManyConcurrentReturns429(t *testing.T) {
	block := make(chan struct{})
	handler := TaskHandlerFunc(func(ctx context.Context, task A2ATask) (HandlerResult, error) {
		<-block
		return HandlerResult{Status: StatusCompleted}, nil
	})
	s := newTestServer(t, handler)
	defer close(block)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("post %d: expected 201, got %d", i, resp.StatusCode)
		}
	}

	resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
	if err != nil {
		t.Fatalf("post 3rd: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over capacity, got %d", resp.StatusCode)
	}
}

func TestCancelTask_NoOpOnTerminal(t *testing.T) {
	handler := TaskHandlerFunc(func(ctx context.Context, task A2ATask) (HandlerResult, error) {
		return HandlerResult{Status: StatusCompleted}, nil
	})
	s := newTestServer(t, handler)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
	var task A2ATask
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		status := s.tasks[task.ID].Status
		s.mu.Unlock()
		if status == StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancelResp, err := http.Post(srv.URL+"/a2a/tasks/"+task.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	defer cancelResp.Body.Close()
	var got A2ATask
	json.NewDecoder(cancelResp.Body).Decode(&got)
	if got.Status != StatusCompleted {
		t.Fatalf("expected cancel on terminal task to be a no-op, got status %s", got.Status)
	}
}

func TestInputTask_RejectedUnlessAwaitingInput(t *testing.T) {
	handler := TaskHandlerFunc(func(ctx context.Context, task A2ATask) (HandlerResult, error) {
		return HandlerResult{Status: StatusInputRequired}, nil
	})
	s := newTestServer(t, handler)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
	var task A2ATask
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		status := s.tasks[task.ID].Status
		s.mu.Unlock()
		if status == StatusInputRequired {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	body := `{"message":{"role":"user","parts":[{"type":"text","text":"more"}]}}`
	inputResp, err := http.Post(srv.URL+"/a2a/tasks/"+task.ID+"/input", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	defer inputResp.Body.Close()
	if inputResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 while awaiting input, got %d", inputResp.StatusCode)
	}
}

func TestTaskTimeout_TransitionsToFailed(t *testing.T) {
	handler := TaskHandlerFunc(func(ctx context.Context, task A2ATask) (HandlerResult, error) {
		<-ctx.Done()
		return HandlerResult{}, ctx.Err()
	})
	s, err := New(Config{MaxConcurrentTasks: 1, TaskTimeout: 30 * time.Millisecond, Handler: handler})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
	var task A2ATask
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		getResp, _ := http.Get(srv.URL + "/a2a/tasks/" + task.ID)
		var got A2ATask
		json.NewDecoder(getResp.Body).Decode(&got)
		getResp.Body.Close()
		if got.Status == StatusFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task never timed out to failed")
}

func TestPushNotification_FiresOnCompletion(t *testing.T) {
	var received int32
	pushTarget := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer pushTarget.Close()

	block := make(chan struct{})
	handler := TaskHandlerFunc(func(ctx context.Context, task A2ATask) (HandlerResult, error) {
		<-block
		return HandlerResult{Status: StatusCompleted}, nil
	})
	s := newTestServer(t, handler)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
	var task A2ATask
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	pushBody := `{"url":"` + pushTarget.URL + `","statuses":["completed"]}`
	pushResp, err := http.Post(srv.URL+"/a2a/tasks/"+task.ID+"/push", "application/json", strings.NewReader(pushBody))
	if err != nil {
		t.Fatalf("push subscribe: %v", err)
	}
	pushResp.Body.Close()

	close(block)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&received) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("push target never received a notification")
}

func TestSubscribe_StreamsStatusUpdates(t *testing.T) {
	block := make(chan struct{})
	handler := TaskHandlerFunc(func(ctx context.Context, task A2ATask) (HandlerResult, error) {
		<-block
		return HandlerResult{Status: StatusCompleted}, nil
	})
	s := newTestServer(t, handler)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(validMessageBody()))
	var task A2ATask
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/a2a/tasks/"+task.ID+"/subscribe", nil)
	client := &http.Client{Timeout: 2 * time.Second}
	streamResp, err := client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer streamResp.Body.Close()

	close(block)

	reader := bufio.NewReader(streamResp.Body)
	var sawCompleted bool
	for i := 0; i < 10; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if !bytes.HasPrefix([]byte(line), []byte("data: ")) {
			continue
		}
		var ev sseEvent
		if jsonErr := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); jsonErr == nil {
			if ev.Task.Status == StatusCompleted {
				sawCompleted = true
				break
			}
		}
	}
	if !sawCompleted {
		t.Fatalf("expected to observe a completed status frame over SSE")
	}
}
