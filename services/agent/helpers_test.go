package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"studybuddy/db"
	"studybuddy/models"
	"studybuddy/services"
	"studybuddy/services/llm"

	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name   string
	gated  bool
	output string
	err    error

	mu     sync.Mutex
	inputs []string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool " + f.name }
func (f *fakeTool) InputSchema() llm.ToolSchema {
	return llm.ToolSchema{Properties: map[string]any{}}
}
func (f *fakeTool) RequiresConfirmation() bool { return f.gated }

func (f *fakeTool) Call(ctx context.Context, input string) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// fakeEngine answers each Generate with the result of respond.
type fakeEngine struct {
	respond func(n int, req llm.Request) (*llm.Generation, error)

	mu       sync.Mutex
	requests []llm.Request
}

func (f *fakeEngine) Generate(ctx context.Context, req llm.Request, onText func(string)) (*llm.Generation, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gen, err := f.respond(n, req)
	if err != nil {
		return nil, err
	}
	if gen.Text != "" && onText != nil {
		onText(gen.Text)
	}
	return gen, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func textReply(text string) *llm.Generation {
	return &llm.Generation{Text: text, StopReason: llm.StopEndTurn}
}

func callReply(calls ...models.ToolCall) *llm.Generation {
	return &llm.Generation{ToolCalls: calls, StopReason: llm.StopToolUse}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

func (r *eventRecorder) emit(event models.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) ofType(eventType string) []models.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.StreamEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func user(content string) models.AgentMessage {
	return models.AgentMessage{Role: models.RoleUser, Content: content}
}

func assistant(content string, calls ...models.ToolCall) models.AgentMessage {
	return models.AgentMessage{Role: models.RoleAssistant, Content: content, ToolCalls: calls}
}

func toolMessage(results ...models.ToolResult) models.AgentMessage {
	return models.AgentMessage{Role: models.RoleTool, ToolResults: results}
}

func call(id, name string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Arguments: map[string]any{}}
}

func result(id, content string) models.ToolResult {
	return models.ToolResult{ToolCallID: id, Content: content}
}

func signal(id, approval string) models.ToolResult {
	return models.ToolResult{ToolCallID: id, Approval: approval}
}

func newTestPartition(t *testing.T) *db.Partition {
	t.Helper()

	p, err := db.OpenSQLitePartition(context.Background(), "test", filepath.Join(t.TempDir(), "study.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTestStudyService(t *testing.T) *services.StudyService {
	t.Helper()
	return services.NewStudyService(newTestPartition(t))
}
