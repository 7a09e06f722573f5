package agent

import (
	"context"
	"fmt"

	"studybuddy/logger"
	"studybuddy/models"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const deniedByUser = "denied by user"

// Resolution is a history whose unanswered tool calls have been settled as
// far as possible.
type Resolution struct {
	Messages []models.AgentMessage
	// Pending holds gated calls still waiting for an approval signal.
	Pending []models.ToolCall
}

// Resolve executes tool calls in a sanitized history that have no result
// yet. Calls to gated tools run only once approved; denied calls get an error
// result and calls without a signal stay pending. Results are placed, in call
// order, in the tool message that follows the calling assistant message.
func Resolve(ctx context.Context, history []models.AgentMessage, tools *ToolSet, emit models.StreamCallback) (*Resolution, error) {
	answered := map[string]bool{}
	approvals := map[string]string{}
	for _, msg := range history {
		for _, result := range msg.ToolResults {
			if result.IsSignal() {
				approvals[result.ToolCallID] = result.Approval
				continue
			}
			answered[result.ToolCallID] = true
		}
	}

	var unresolved []models.ToolCall
	for _, msg := range history {
		if msg.Role != models.RoleAssistant {
			continue
		}
		for _, call := range msg.ToolCalls {
			if !answered[call.ID] {
				unresolved = append(unresolved, call)
			}
		}
	}

	if len(unresolved) == 0 {
		return &Resolution{Messages: history}, nil
	}

	logger.Log.Infof("Starting resolution of %d unanswered tool calls", len(unresolved))

	settled := map[string]models.ToolResult{}
	var toRun []models.ToolCall
	var pending []models.ToolCall

	for _, call := range unresolved {
		if !tools.RequiresConfirmation(call.Name) {
			toRun = append(toRun, call)
			continue
		}
		switch approvals[call.ID] {
		case models.ApprovalApproved:
			toRun = append(toRun, call)
		case models.ApprovalDenied:
			result := models.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    "Error: " + deniedByUser,
				IsError:    true,
			}
			settled[call.ID] = result
			emitEvent(emit, models.StreamEvent{Type: models.EventToolResult, ToolResult: &result})
		default:
			pending = append(pending, call)
		}
	}

	results, err := executeCalls(ctx, tools, toRun, emit)
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		settled[result.ToolCallID] = result
	}

	if len(pending) > 0 {
		logger.Log.Infof("%d tool calls are waiting for approval", len(pending))
	}

	return &Resolution{
		Messages: insertResults(history, settled),
		Pending:  pending,
	}, nil
}

// executeCalls runs calls concurrently and returns their results in call
// order. Tool failures become error results; only cancellation is an error.
func executeCalls(ctx context.Context, tools *ToolSet, calls []models.ToolCall, emit models.StreamCallback) ([]models.ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	for i := range calls {
		emitEvent(emit, models.StreamEvent{Type: models.EventToolCall, ToolCall: &calls[i]})
	}

	results := make([]models.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = tools.Execute(gctx, call)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tool execution aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tool execution aborted: %w", err)
	}

	for i := range results {
		emitEvent(emit, models.StreamEvent{Type: models.EventToolResult, ToolResult: &results[i]})
	}

	return results, nil
}

// insertResults merges settled results into the tool messages that directly
// follow each calling assistant message, replacing approval signals.
func insertResults(history []models.AgentMessage, settled map[string]models.ToolResult) []models.AgentMessage {
	if len(settled) == 0 {
		return history
	}

	out := make([]models.AgentMessage, 0, len(history)+1)
	for i := 0; i < len(history); i++ {
		msg := history[i]
		out = append(out, msg)

		if msg.Role != models.RoleAssistant || !lo.SomeBy(msg.ToolCalls, func(c models.ToolCall) bool { _, ok := settled[c.ID]; return ok }) {
			continue
		}

		// Collect the tool messages that already answer this assistant message.
		var existing []models.ToolResult
		var toolMsg models.AgentMessage
		j := i + 1
		for ; j < len(history) && history[j].Role == models.RoleTool; j++ {
			if toolMsg.Role == "" {
				toolMsg = history[j]
			}
			existing = append(existing, history[j].ToolResults...)
		}
		if toolMsg.Role == "" {
			toolMsg = models.AgentMessage{Role: models.RoleTool}
		}

		merged := make([]models.ToolResult, 0, len(existing)+len(settled))
		used := map[string]bool{}
		for _, call := range msg.ToolCalls {
			if result, ok := settled[call.ID]; ok {
				merged = append(merged, result)
				used[call.ID] = true
				continue
			}
			if result, ok := lo.Find(existing, func(r models.ToolResult) bool { return r.ToolCallID == call.ID }); ok {
				merged = append(merged, result)
				used[call.ID] = true
			}
		}
		for _, result := range existing {
			if !used[result.ToolCallID] {
				merged = append(merged, result)
			}
		}

		toolMsg.ToolResults = merged
		out = append(out, toolMsg)
		i = j - 1
	}

	return out
}

func emitEvent(emit models.StreamCallback, event models.StreamEvent) {
	if emit != nil {
		emit(event)
	}
}
