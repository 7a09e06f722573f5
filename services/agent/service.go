package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studybuddy/logger"
	"studybuddy/metrics"
	"studybuddy/models"
	"studybuddy/services/llm"
	"studybuddy/tracing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultMaxSteps = 10

// Reasons a turn ends.
const (
	FinishStop             = "stop"
	FinishMaxSteps         = "max-steps"
	FinishAwaitingApproval = "awaiting-approval"
)

// Turn is the input of one conversation turn.
type Turn struct {
	Messages []models.AgentMessage
	Tools    *ToolSet
	Emit     models.StreamCallback
	// OnFinish receives the finished message set. It is not called when the
	// turn fails or is cancelled.
	OnFinish func(ctx context.Context, messages []models.AgentMessage) error
}

// Service drives tool-augmented conversation turns against an engine.
type Service struct {
	engine    llm.Engine
	system    string
	maxSteps  int
	maxTokens int64
}

func NewService(engine llm.Engine, system string, maxSteps int, maxTokens int64) *Service {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Service{
		engine:    engine,
		system:    system,
		maxSteps:  maxSteps,
		maxTokens: maxTokens,
	}
}

// RunTurn sanitizes the history, resolves unanswered tool calls, then lets
// the engine generate for at most maxSteps steps. A step is one generation
// plus execution of the tool calls it requested.
func (s *Service) RunTurn(ctx context.Context, turn Turn) (*models.AgentResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "agent.turn")
	defer span.End()

	logger.Log.Infof("Starting agent turn with %d messages", len(turn.Messages))

	response, steps, err := s.runTurn(ctx, turn)
	metrics.StepsPerTurn.Observe(float64(steps))
	span.SetAttributes(attribute.Int("agent.steps", steps))

	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		metrics.TurnCounter.WithLabelValues(outcome).Inc()
		span.SetStatus(codes.Error, err.Error())
		logger.Log.Errorf("Agent turn failed after %d steps: %v", steps, err)
		return nil, err
	}

	metrics.TurnCounter.WithLabelValues("ok").Inc()
	logger.Log.Infof("Agent turn completed successfully after %d steps", steps)
	return response, nil
}

func (s *Service) runTurn(ctx context.Context, turn Turn) (*models.AgentResponse, int, error) {
	tools := turn.Tools
	if tools == nil {
		tools = NewToolSet(nil)
	}

	history := Sanitize(turn.Messages)

	resolution, err := Resolve(ctx, history, tools, turn.Emit)
	if err != nil {
		return nil, 0, err
	}
	history = resolution.Messages
	view := withoutCalls(history, resolution.Pending)
	specs := tools.Specs()

	reason := FinishMaxSteps
	step := 0
	for step < s.maxSteps {
		step++

		if err := ctx.Err(); err != nil {
			return nil, step - 1, err
		}

		assistant, toolMsg, gated, err := s.runStep(ctx, step, view, specs, tools, turn.Emit)
		if err != nil {
			return nil, step, err
		}

		history = append(history, assistant)
		view = append(view, withoutCalls([]models.AgentMessage{assistant}, gated)...)
		if toolMsg != nil {
			history = append(history, *toolMsg)
			view = append(view, *toolMsg)
		}

		switch {
		case len(assistant.ToolCalls) == 0:
			reason = FinishStop
		case len(gated) > 0:
			reason = FinishAwaitingApproval
		}
		emitEvent(turn.Emit, models.StreamEvent{Type: models.EventStepFinish, Step: step, Reason: stepReason(reason, step, s.maxSteps)})

		if reason != FinishMaxSteps {
			break
		}
	}

	if reason == FinishMaxSteps {
		logger.Log.Warnf("Step budget of %d exhausted; ending turn", s.maxSteps)
	}

	if turn.OnFinish != nil {
		if err := turn.OnFinish(ctx, history); err != nil {
			return nil, step, fmt.Errorf("failed to finalize turn: %w", err)
		}
	}

	emitEvent(turn.Emit, models.StreamEvent{Type: models.EventFinish, Reason: reason, Messages: history})

	return &models.AgentResponse{Messages: history}, step, nil
}

// runStep performs one generation and executes the non-gated calls it asks for.
func (s *Service) runStep(ctx context.Context, step int, view []models.AgentMessage, specs []llm.ToolSpec, tools *ToolSet, emit models.StreamCallback) (models.AgentMessage, *models.AgentMessage, []models.ToolCall, error) {
	ctx, span := tracing.Tracer().Start(ctx, "agent.step")
	span.SetAttributes(attribute.Int("agent.step", step))
	defer span.End()

	gen, err := s.engine.Generate(ctx, llm.Request{
		System:    s.system,
		Messages:  view,
		Tools:     specs,
		MaxTokens: s.maxTokens,
	}, func(delta string) {
		emitEvent(emit, models.StreamEvent{Type: models.EventTextDelta, Text: delta, Step: step})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.AgentMessage{}, nil, nil, fmt.Errorf("generation failed at step %d: %w", step, err)
	}

	calls := lo.Reject(gen.ToolCalls, func(c models.ToolCall, _ int) bool { return c.Partial })
	if dropped := len(gen.ToolCalls) - len(calls); dropped > 0 {
		logger.Log.Warnf("Discarding %d tool calls with incomplete arguments", dropped)
	}

	assistant := models.AgentMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   gen.Text,
		ToolCalls: calls,
		CreatedAt: time.Now().UTC(),
	}

	if len(calls) == 0 {
		return assistant, nil, nil, nil
	}

	runnable, gated := lo.FilterReject(calls, func(c models.ToolCall, _ int) bool {
		return !tools.RequiresConfirmation(c.Name)
	})
	for i := range gated {
		emitEvent(emit, models.StreamEvent{Type: models.EventToolCall, ToolCall: &gated[i], Step: step})
	}

	results, err := executeCalls(ctx, tools, runnable, emit)
	if err != nil {
		return models.AgentMessage{}, nil, nil, err
	}
	if len(results) == 0 {
		return assistant, nil, gated, nil
	}

	toolMsg := &models.AgentMessage{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now().UTC(),
	}
	return assistant, toolMsg, gated, nil
}

func stepReason(reason string, step, maxSteps int) string {
	if reason == FinishMaxSteps && step < maxSteps {
		return "tool-calls"
	}
	return reason
}

// withoutCalls removes the given calls, and any results attached to them,
// dropping messages that end up empty.
func withoutCalls(history []models.AgentMessage, calls []models.ToolCall) []models.AgentMessage {
	if len(calls) == 0 {
		return append([]models.AgentMessage{}, history...)
	}

	excluded := lo.SliceToMap(calls, func(c models.ToolCall) (string, bool) { return c.ID, true })

	out := make([]models.AgentMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			kept := lo.Reject(msg.ToolCalls, func(c models.ToolCall, _ int) bool { return excluded[c.ID] })
			if len(kept) == 0 && msg.Content == "" {
				continue
			}
			msg.ToolCalls = kept
		}
		if msg.Role == models.RoleTool {
			msg.ToolResults = lo.Reject(msg.ToolResults, func(r models.ToolResult, _ int) bool { return excluded[r.ToolCallID] })
			if len(msg.ToolResults) == 0 {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}
