package llm

import (
	"context"
	"encoding/json"
	"strings"

	"studybuddy/logger"
	"studybuddy/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const providerAnthropic = "anthropic"

type AnthropicEngine struct {
	client *anthropic.Client
	model  anthropic.Model
}

func NewAnthropicEngine(apiKey, model string) *AnthropicEngine {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	if model == "" {
		model = string(anthropic.ModelClaude4Sonnet20250514)
	}

	return &AnthropicEngine{
		client: &client,
		model:  anthropic.Model(model),
	}
}

func (e *AnthropicEngine) Generate(ctx context.Context, req Request, onText func(delta string)) (*Generation, error) {
	params := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: req.MaxTokens,
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	logger.Log.Debugf("Sending %d messages and %d tools to %s", len(params.Messages), len(params.Tools), e.model)

	stream := e.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, &EngineError{Provider: providerAnthropic, Err: err}
		}

		if variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" && onText != nil {
				onText(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &EngineError{Provider: providerAnthropic, Err: err}
	}

	return fromAnthropicMessage(&msg), nil
}

func fromAnthropicMessage(msg *anthropic.Message) *Generation {
	gen := &Generation{StopReason: mapAnthropicStopReason(msg.StopReason)}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			call := models.ToolCall{ID: block.ID, Name: block.Name, Arguments: map[string]any{}}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &call.Arguments); err != nil {
					call.Partial = true
				}
			}
			gen.ToolCalls = append(gen.ToolCalls, call)
		}
	}
	gen.Text = text.String()

	return gen
}

func mapAnthropicStopReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonToolUse:
		return StopToolUse
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return StopEndTurn
	case anthropic.StopReasonMaxTokens:
		return StopMaxTokens
	default:
		return StopOther
	}
}

// toAnthropicMessages converts history into alternating user/assistant turns.
// Tool results travel as user content; consecutive same-role messages merge.
func toAnthropicMessages(messages []models.AgentMessage) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		if role == anthropic.MessageParamRoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			if msg.Content != "" {
				appendBlocks(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)})
			}
		case models.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: input,
					},
				})
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks)
		case models.RoleTool:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, result := range msg.ToolResults {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: result.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: result.Content}},
						},
						IsError: anthropic.Bool(result.IsError),
					},
				})
			}
			appendBlocks(anthropic.MessageParamRoleUser, blocks)
		}
	}

	return out
}

func toAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	var tools []anthropic.ToolUnionParam

	for _, spec := range specs {
		properties := spec.Schema.Properties
		if properties == nil {
			properties = map[string]any{}
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   spec.Schema.Required,
				},
			},
		})
	}

	return tools
}
