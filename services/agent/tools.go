package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"studybuddy/logger"
	"studybuddy/metrics"
	"studybuddy/models"
	"studybuddy/services/llm"
	"studybuddy/tracing"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrToolNotFound is returned when a call names a tool that is not offered.
var ErrToolNotFound = errors.New("tool not found")

var validate = validator.New(validator.WithRequiredStructEnabled())

// AgentTool interface that all tools must implement
type AgentTool interface {
	Name() string
	Description() string
	InputSchema() llm.ToolSchema
	// RequiresConfirmation reports whether a call must be approved by the
	// client before it runs.
	RequiresConfirmation() bool
	Call(ctx context.Context, input string) (string, error)
}

// ToolSource lists tools provided outside this process. It is queried at the
// start of every turn.
type ToolSource interface {
	Name() string
	ListTools(ctx context.Context) ([]AgentTool, error)
}

// ValidationError reports tool input that failed decoding or validation.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// decodeInput strictly decodes input into T and validates its struct tags.
func decodeInput[T any](tool, input string) (T, error) {
	var params T

	if strings.TrimSpace(input) == "" {
		input = "{}"
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(input)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&params); err != nil {
		return params, &ValidationError{Tool: tool, Err: err}
	}

	if err := validate.Struct(params); err != nil {
		return params, &ValidationError{Tool: tool, Err: err}
	}

	return params, nil
}

func generateToolSchema[T any]() llm.ToolSchema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return llm.ToolSchema{Properties: map[string]any{}}
	}

	var out llm.ToolSchema
	if err := json.Unmarshal(raw, &out); err != nil || out.Properties == nil {
		out.Properties = map[string]any{}
	}
	return out
}

// Registry combines the tools built into an instance with those listed by
// external sources.
type Registry struct {
	static  []AgentTool
	sources []ToolSource
}

func NewRegistry(static []AgentTool, sources ...ToolSource) *Registry {
	return &Registry{static: static, sources: sources}
}

// Resolve lists every source afresh. A failing source is logged and skipped.
// Built-in tools win over external tools with the same name.
func (r *Registry) Resolve(ctx context.Context) *ToolSet {
	tools := append([]AgentTool{}, r.static...)

	for _, source := range r.sources {
		listed, err := source.ListTools(ctx)
		if err != nil {
			logger.Log.Warnf("Failed to list tools from source %s: %v", source.Name(), err)
			continue
		}
		tools = append(tools, listed...)
	}

	return NewToolSet(tools)
}

// ToolSet is the fixed set of tools offered during one turn.
type ToolSet struct {
	tools  []AgentTool
	byName map[string]AgentTool
}

func NewToolSet(tools []AgentTool) *ToolSet {
	unique := lo.UniqBy(tools, func(t AgentTool) string { return t.Name() })
	return &ToolSet{
		tools:  unique,
		byName: lo.KeyBy(unique, func(t AgentTool) string { return t.Name() }),
	}
}

func (s *ToolSet) Get(name string) (AgentTool, bool) {
	tool, ok := s.byName[name]
	return tool, ok
}

func (s *ToolSet) Names() []string {
	return lo.Map(s.tools, func(t AgentTool, _ int) string { return t.Name() })
}

// RequiresConfirmation reports whether the named tool is gated. Unknown
// tools are not gated; calling them yields an error result.
func (s *ToolSet) RequiresConfirmation(name string) bool {
	tool, ok := s.byName[name]
	return ok && tool.RequiresConfirmation()
}

func (s *ToolSet) Specs() []llm.ToolSpec {
	return lo.Map(s.tools, func(t AgentTool, _ int) llm.ToolSpec {
		return llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.InputSchema(),
		}
	})
}

// Execute runs one call and converts any failure into an error result.
func (s *ToolSet) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	ctx, span := tracing.Tracer().Start(ctx, "agent.tool")
	span.SetAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID))
	defer span.End()

	result := s.execute(ctx, call)

	status := "ok"
	if result.IsError {
		status = "error"
		span.SetStatus(codes.Error, result.Content)
	}
	metrics.ToolCallCounter.WithLabelValues(call.Name, status).Inc()

	return result
}

func (s *ToolSet) execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	result := models.ToolResult{ToolCallID: call.ID, Name: call.Name}

	tool, ok := s.byName[call.Name]
	if !ok {
		logger.Log.Errorf("Tool %s requested but not available", call.Name)
		result.Content = fmt.Sprintf("Error: %v: %s", ErrToolNotFound, call.Name)
		result.IsError = true
		return result
	}

	arguments := call.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}
	input, err := json.Marshal(arguments)
	if err != nil {
		result.Content = fmt.Sprintf("Error: failed to encode arguments: %v", err)
		result.IsError = true
		return result
	}

	logger.Log.Infof("Executing tool: %s with arguments: %s", call.Name, input)

	output, err := tool.Call(ctx, string(input))
	if err != nil {
		logger.Log.Errorf("Tool execution failed: %v", err)
		result.Content = fmt.Sprintf("Error: %v", err)
		result.IsError = true
		return result
	}

	logger.Log.Debugf("Tool execution result: %s", output)
	result.Content = output
	return result
}
