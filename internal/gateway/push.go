package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const pushTimeout = 5 * time.Second

// pushSubscription is one outbound webhook registered via
// POST /a2a/tasks/{id}/push, filtered by status set (spec.md §4.5).
type pushSubscription struct {
	URL      string
	Statuses map[Status]bool
}

func (p pushSubscription) matches(s Status) bool {
	if len(p.Statuses) == 0 {
		return true
	}
	return p.Statuses[s]
}

// dispatchPush fires a fire-and-forget POST with a 5-second timeout
// (spec.md §4.5 "Push is fire-and-forget over HTTPS with a 5-second
// timeout"). Errors are logged, never surfaced to the task.
func dispatchPush(client *http.Client, logger *slog.Logger, sub pushSubscription, task A2ATask) {
	body, err := json.Marshal(task)
	if err != nil {
		logger.Error("gateway: marshal push payload", "error", err, "task_id", task.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		logger.Error("gateway: build push request", "error", err, "task_id", task.ID)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("gateway: push delivery failed", "error", err, "task_id", task.ID, "url", sub.URL)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Warn("gateway: push rejected", "status", resp.StatusCode, "task_id", task.ID, "url", sub.URL)
	}
}
