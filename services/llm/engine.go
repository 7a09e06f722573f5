package llm

import (
	"context"
	"fmt"

	"studybuddy/models"
)

// Stop reasons reported by a Generation.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopOther     = "other"
)

// ToolSchema is the JSON Schema of a tool's input object.
type ToolSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

type Request struct {
	System    string
	Messages  []models.AgentMessage
	Tools     []ToolSpec
	MaxTokens int64
}

// Generation is the outcome of one engine step.
type Generation struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason string
}

// Engine generates one assistant step. onText, when non-nil, receives text
// deltas as they arrive.
type Engine interface {
	Generate(ctx context.Context, req Request, onText func(delta string)) (*Generation, error)
}

// EngineError wraps a failure reported by a generation provider.
type EngineError struct {
	Provider string
	Err      error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s engine: %v", e.Provider, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
