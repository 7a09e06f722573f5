package agent

import (
	"studybuddy/logger"
	"studybuddy/models"
)

// Sanitize repairs a history left inconsistent by an interrupted turn so it
// can be resubmitted to an engine. It removes
//   - tool calls whose arguments never finished streaming,
//   - tool calls without a result that are followed by a later user message,
//   - tool results that answer no kept earlier call, or answer an already
//     answered one,
//
// and then any assistant or tool message emptied by those removals. Calls
// after the last user message may legitimately await a result and are kept.
// Message order is preserved and Sanitize(Sanitize(h)) equals Sanitize(h).
func Sanitize(history []models.AgentMessage) []models.AgentMessage {
	lastUser := -1
	for i, msg := range history {
		if msg.Role == models.RoleUser {
			lastUser = i
		}
	}

	// Index of the last real (non-signal) result for each call id.
	lastResult := map[string]int{}
	for i, msg := range history {
		if msg.Role != models.RoleTool {
			continue
		}
		for _, result := range msg.ToolResults {
			if result.IsSignal() {
				continue
			}
			lastResult[result.ToolCallID] = i
		}
	}

	out := make([]models.AgentMessage, 0, len(history))
	declared := map[string]bool{}
	answered := map[string]bool{}
	signaled := map[string]bool{}
	dropped := 0

	for i, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, msg)
				continue
			}

			calls := make([]models.ToolCall, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				resultAt, hasResult := lastResult[call.ID]
				hasResult = hasResult && resultAt > i

				switch {
				case call.Partial:
				case call.ID == "" || declared[call.ID]:
				case !hasResult && i < lastUser:
				default:
					declared[call.ID] = true
					calls = append(calls, call)
					continue
				}
				dropped++
			}

			if len(calls) == 0 {
				if msg.Content == "" {
					continue
				}
				calls = nil
			}
			msg.ToolCalls = calls
			out = append(out, msg)

		case models.RoleTool:
			results := make([]models.ToolResult, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				id := result.ToolCallID
				switch {
				case !declared[id]:
				case result.IsSignal():
					if _, resolved := lastResult[id]; resolved || signaled[id] {
						break
					}
					signaled[id] = true
					results = append(results, result)
					continue
				case answered[id]:
				default:
					answered[id] = true
					results = append(results, result)
					continue
				}
				dropped++
			}

			if len(results) == 0 {
				continue
			}
			msg.ToolResults = results
			out = append(out, msg)

		default:
			out = append(out, msg)
		}
	}

	if dropped > 0 {
		logger.Log.Debugf("Sanitized history: dropped %d dangling tool calls or results", dropped)
	}

	return out
}
