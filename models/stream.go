package models

// Stream event types emitted while a turn runs.
const (
	EventTextDelta  = "text-delta"
	EventToolCall   = "tool-call"
	EventToolResult = "tool-result"
	EventStepFinish = "step-finish"
	EventFinish     = "finish"
	EventError      = "error"
)

// StreamEvent is one unit of incremental turn output.
type StreamEvent struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolCall   *ToolCall      `json:"tool_call,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
	Step       int            `json:"step,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Messages   []AgentMessage `json:"messages,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// StreamCallback receives events in order. It must not block for long.
type StreamCallback func(event StreamEvent)
