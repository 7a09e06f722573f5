package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"studybuddy/models"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	providerOpenAI     = "openai"
	defaultOpenAIModel = "gpt-4o-mini"
)

type OpenAIEngine struct {
	llm llms.Model
}

func NewOpenAIEngine(apiKey, model string) (*OpenAIEngine, error) {
	if model == "" {
		model = defaultOpenAIModel
	}

	client, err := openai.New(
		openai.WithModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	return &OpenAIEngine{llm: client}, nil
}

func (e *OpenAIEngine) Generate(ctx context.Context, req Request, onText func(delta string)) (*Generation, error) {
	opts := []llms.CallOption{}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(int(req.MaxTokens)))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toLangchainTools(req.Tools)))
	}
	if onText != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			// Tool call deltas arrive on the same callback as a JSON array.
			if isToolCallChunk(chunk) {
				return nil
			}
			onText(string(chunk))
			return nil
		}))
	}

	resp, err := e.llm.GenerateContent(ctx, toLangchainMessages(req.System, req.Messages), opts...)
	if err != nil {
		return nil, &EngineError{Provider: providerOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &EngineError{Provider: providerOpenAI, Err: fmt.Errorf("response contained no choices")}
	}

	return fromLangchainChoice(resp.Choices[0]), nil
}

func isToolCallChunk(chunk []byte) bool {
	trimmed := bytes.TrimSpace(chunk)
	return bytes.HasPrefix(trimmed, []byte("[{")) && json.Valid(trimmed)
}

func fromLangchainChoice(choice *llms.ContentChoice) *Generation {
	gen := &Generation{Text: choice.Content}

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		call := models.ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: map[string]any{}}
		if tc.FunctionCall.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &call.Arguments); err != nil {
				call.Partial = true
			}
		}
		gen.ToolCalls = append(gen.ToolCalls, call)
	}

	switch choice.StopReason {
	case "tool_calls", "function_call":
		gen.StopReason = StopToolUse
	case "stop":
		gen.StopReason = StopEndTurn
	case "length":
		gen.StopReason = StopMaxTokens
	default:
		gen.StopReason = StopOther
	}
	if len(gen.ToolCalls) > 0 && gen.StopReason == StopOther {
		gen.StopReason = StopToolUse
	}

	return gen
}

// toLangchainMessages converts history to chat messages. Each tool result
// becomes its own tool message.
func toLangchainMessages(system string, messages []models.AgentMessage) []llms.MessageContent {
	var out []llms.MessageContent

	if system != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case models.RoleAssistant:
			content := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if msg.Content != "" {
				content.Parts = append(content.Parts, llms.TextContent{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil || call.Arguments == nil {
					args = []byte("{}")
				}
				content.Parts = append(content.Parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}
		case models.RoleTool:
			for _, result := range msg.ToolResults {
				out = append(out, llms.MessageContent{
					Role: llms.ChatMessageTypeTool,
					Parts: []llms.ContentPart{
						llms.ToolCallResponse{
							ToolCallID: result.ToolCallID,
							Name:       result.Name,
							Content:    result.Content,
						},
					},
				})
			}
		}
	}

	return out
}

func toLangchainTools(specs []ToolSpec) []llms.Tool {
	tools := make([]llms.Tool, 0, len(specs))

	for _, spec := range specs {
		properties := spec.Schema.Properties
		if properties == nil {
			properties = map[string]any{}
		}
		parameters := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(spec.Schema.Required) > 0 {
			parameters["required"] = spec.Schema.Required
		}

		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  parameters,
			},
		})
	}

	return tools
}
