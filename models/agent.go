package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Approval signals a client attaches to a confirmation-gated tool call.
const (
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

type AgentMessage struct {
	ID          string       `json:"id,omitempty"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitzero"`
}

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// Partial marks a call whose arguments never finished streaming.
	Partial bool `json:"partial,omitempty"`
}

// ToolResult answers a ToolCall. A result carrying only an Approval is a
// confirmation signal from the client, not an executed result.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	Approval   string `json:"approval,omitempty"`
}

// IsSignal reports whether the result is an unexecuted approval signal.
func (r ToolResult) IsSignal() bool {
	return r.Approval != "" && r.Content == ""
}

type AgentRequest struct {
	Messages []AgentMessage `json:"messages"`
}

type AgentResponse struct {
	Messages []AgentMessage `json:"messages"`
}
