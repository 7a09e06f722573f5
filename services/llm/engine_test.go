package llm

import (
	"encoding/json"
	"testing"

	"studybuddy/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func sampleHistory() []models.AgentMessage {
	return []models.AgentMessage{
		{Role: models.RoleUser, Content: "Quiz me on biology"},
		{Role: models.RoleUser, Content: "Make it easy"},
		{
			Role:    models.RoleAssistant,
			Content: "Starting a quiz.",
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "generateQuiz", Arguments: map[string]any{"topic": "Biology"}},
				{ID: "call-2", Name: "getStudyStats"},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "call-1", Name: "generateQuiz", Content: `{"sessionId":"s1"}`},
				{ToolCallID: "call-2", Name: "getStudyStats", Content: "Error: boom", IsError: true},
			},
		},
	}
}

func TestToAnthropicMessages(t *testing.T) {
	out := toAnthropicMessages(sampleHistory())

	require.Len(t, out, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Len(t, out[0].Content, 2)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	require.Len(t, out[1].Content, 3)
	require.NotNil(t, out[1].Content[1].OfToolUse)
	assert.Equal(t, "call-1", out[1].Content[1].OfToolUse.ID)
	require.NotNil(t, out[1].Content[2].OfToolUse)
	assert.Equal(t, map[string]any{}, out[1].Content[2].OfToolUse.Input)

	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	require.Len(t, out[2].Content, 2)
	require.NotNil(t, out[2].Content[0].OfToolResult)
	first := out[2].Content[0].OfToolResult
	assert.Equal(t, "call-1", first.ToolUseID)
	require.Len(t, first.Content, 1)
	require.NotNil(t, first.Content[0].OfText)
	assert.Equal(t, `{"sessionId":"s1"}`, first.Content[0].OfText.Text)
	assert.False(t, first.IsError.Value)

	require.NotNil(t, out[2].Content[1].OfToolResult)
	second := out[2].Content[1].OfToolResult
	assert.Equal(t, "call-2", second.ToolUseID)
	require.Len(t, second.Content, 1)
	assert.Equal(t, "Error: boom", second.Content[0].OfText.Text)
	assert.True(t, second.IsError.Value)
}

func TestFromAnthropicMessage(t *testing.T) {
	raw := `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"content": [
			{"type": "text", "text": "Let me set that up."},
			{"type": "tool_use", "id": "toolu_1", "name": "generateQuiz", "input": {"topic": "Biology", "numberOfQuestions": 3}}
		],
		"stop_reason": "tool_use",
		"stop_sequence": null,
		"usage": {"input_tokens": 10, "output_tokens": 20}
	}`

	var msg anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	gen := fromAnthropicMessage(&msg)
	assert.Equal(t, "Let me set that up.", gen.Text)
	assert.Equal(t, StopToolUse, gen.StopReason)
	require.Len(t, gen.ToolCalls, 1)
	assert.Equal(t, "toolu_1", gen.ToolCalls[0].ID)
	assert.Equal(t, "Biology", gen.ToolCalls[0].Arguments["topic"])
	assert.False(t, gen.ToolCalls[0].Partial)
}

func TestToAnthropicTools(t *testing.T) {
	tools := toAnthropicTools([]ToolSpec{
		{Name: "getStudyStats", Description: "stats"},
	})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "getStudyStats", tools[0].OfTool.Name)
	assert.Equal(t, map[string]any{}, tools[0].OfTool.InputSchema.Properties)
}

func TestToLangchainMessages(t *testing.T) {
	out := toLangchainMessages("be helpful", sampleHistory())

	require.Len(t, out, 6)
	assert.Equal(t, llms.ChatMessageTypeSystem, out[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, out[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, out[3].Role)
	require.Len(t, out[3].Parts, 3)

	call, ok := out[3].Parts[1].(llms.ToolCall)
	require.True(t, ok)
	assert.JSONEq(t, `{"topic":"Biology"}`, call.FunctionCall.Arguments)

	call, ok = out[3].Parts[2].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "{}", call.FunctionCall.Arguments)

	response, ok := out[5].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, llms.ChatMessageTypeTool, out[5].Role)
	assert.Equal(t, "call-2", response.ToolCallID)
}

func TestFromLangchainChoice(t *testing.T) {
	choice := &llms.ContentChoice{
		Content:    "",
		StopReason: "tool_calls",
		ToolCalls: []llms.ToolCall{
			{ID: "a", Type: "function", FunctionCall: &llms.FunctionCall{Name: "checkAnswer", Arguments: `{"sessionId":"s1"}`}},
			{ID: "b", Type: "function", FunctionCall: &llms.FunctionCall{Name: "saveProgress", Arguments: `{"sessionId":"s`}},
		},
	}

	gen := fromLangchainChoice(choice)
	assert.Equal(t, StopToolUse, gen.StopReason)
	require.Len(t, gen.ToolCalls, 2)
	assert.False(t, gen.ToolCalls[0].Partial)
	assert.Equal(t, "s1", gen.ToolCalls[0].Arguments["sessionId"])
	assert.True(t, gen.ToolCalls[1].Partial)
}

func TestIsToolCallChunk(t *testing.T) {
	tests := []struct {
		name     string
		chunk    string
		expected bool
	}{
		{name: "plain text", chunk: "Hello there", expected: false},
		{name: "tool call array", chunk: `[{"id":"a","type":"function"}]`, expected: true},
		{name: "bracket text", chunk: "[{ not json", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isToolCallChunk([]byte(tt.chunk)))
		})
	}
}

func TestEngineErrorUnwraps(t *testing.T) {
	inner := assert.AnError
	err := &EngineError{Provider: "anthropic", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "anthropic engine")
}
