package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cortexos/kernel/internal/contextmgr"
	"github.com/cortexos/kernel/internal/finops"
	"github.com/cortexos/kernel/internal/gateway"
	"github.com/cortexos/kernel/internal/router"
	"github.com/cortexos/kernel/internal/taskpool"
)

// newPoolTaskHandler bridges the Gateway's TaskHandler interface onto the
// Container/Agent Pool: it routes a task's role to a model via the Model
// Router, submits the prompt to the Pool, blocks for completion, records
// the run's consumption with FinOps, and stores the exchange in the
// Context Manager's short-term memory (spec.md §2's wiring boundary: the
// Gateway never imports these packages directly).
func newPoolTaskHandler(pool *taskpool.Pool, ctxMgr *contextmgr.Manager, finopsEngine *finops.Engine, modelRouter *router.Router) gateway.TaskHandlerFunc {
	return func(ctx context.Context, task gateway.A2ATask) (gateway.HandlerResult, error) {
		role := roleFromMetadata(task.Metadata)
		prompt := flattenParts(task.Input.Parts)

		decision := modelRouter.Route(router.Request{
			Role:            role,
			Complexity:      complexityFromMetadata(task.Metadata),
			EstimatedTokens: len(strings.Fields(prompt)) * 2,
		})

		poolTask := pool.Submit(prompt, taskpool.SubmitOptions{Role: role})

		result, err := awaitPoolTask(ctx, pool, poolTask.ID)
		if err != nil {
			return gateway.HandlerResult{}, err
		}

		promptTokens := len(strings.Fields(prompt))
		completionTokens := len(strings.Fields(result.Result))
		cost := decision.Model.PromptPer1M*float64(promptTokens)/1_000_000 +
			decision.Model.CompletionPer1M*float64(completionTokens)/1_000_000
		finopsEngine.RecordConsumption(finops.Record{
			AgentID:          role,
			TaskID:           task.ID,
			Model:            decision.Model.Model,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostUSD:          cost,
			Timestamp:        time.Now(),
		})

		ctxMgr.Store(task.ID, "last-exchange", result.Result, contextmgr.StoreOptions{Tier: contextmgr.TierSTM})

		status := gateway.StatusCompleted
		if result.Status == taskpool.StatusFailed || result.Status == taskpool.StatusCancelled {
			status = gateway.StatusFailed
		}

		return gateway.HandlerResult{
			Status: status,
			Output: &gateway.Message{
				Role:  "agent",
				Parts: []gateway.Part{{Type: "text", Text: result.Result}},
			},
		}, nil
	}
}

// awaitPoolTask polls the Pool for a task's terminal state. The Pool's
// OnEvent hook is pool-wide and fan-out only; polling GetTask keeps this
// handler self-contained and free of extra synchronization.
func awaitPoolTask(ctx context.Context, pool *taskpool.Pool, taskID string) (taskpool.Task, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, ok := pool.GetTask(taskID)
		if !ok {
			return taskpool.Task{}, fmt.Errorf("cortexosd: task %q vanished from pool", taskID)
		}
		if isTerminal(t.Status) {
			return t, nil
		}
		select {
		case <-ctx.Done():
			pool.Cancel(taskID)
			return taskpool.Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isTerminal(s taskpool.Status) bool {
	switch s {
	case taskpool.StatusCompleted, taskpool.StatusFailed, taskpool.StatusCancelled:
		return true
	default:
		return false
	}
}

func flattenParts(parts []gateway.Part) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func roleFromMetadata(md map[string]any) string {
	if v, ok := md["role"].(string); ok && v != "" {
		return v
	}
	return "developer"
}

func complexityFromMetadata(md map[string]any) float64 {
	if v, ok := md["complexity"].(float64); ok {
		return v
	}
	return 0.5
}
