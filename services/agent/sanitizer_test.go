package agent

import (
	"testing"

	"studybuddy/models"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	partial := call("p", "generateQuiz")
	partial.Partial = true

	tests := []struct {
		name    string
		history []models.AgentMessage
		want    []models.AgentMessage
	}{
		{
			name: "complete history is unchanged",
			history: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
				toolMessage(result("a", "ok")),
				assistant("Question 1"),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
				toolMessage(result("a", "ok")),
				assistant("Question 1"),
			},
		},
		{
			name: "partial call is dropped",
			history: []models.AgentMessage{
				user("quiz me"),
				assistant("", partial),
			},
			want: []models.AgentMessage{
				user("quiz me"),
			},
		},
		{
			name: "interrupted call before a later user message is dropped",
			history: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
				user("hello?"),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				user("hello?"),
			},
		},
		{
			name: "interrupted call keeps the assistant text",
			history: []models.AgentMessage{
				user("quiz me"),
				assistant("Let me set that up", call("a", "generateQuiz")),
				user("hello?"),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				assistant("Let me set that up"),
				user("hello?"),
			},
		},
		{
			name: "trailing call without result is kept",
			history: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
			},
		},
		{
			name: "orphan result is dropped",
			history: []models.AgentMessage{
				user("quiz me"),
				toolMessage(result("x", "stray")),
				assistant("Sure"),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				assistant("Sure"),
			},
		},
		{
			name: "second result for the same call is dropped",
			history: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
				toolMessage(result("a", "first")),
				toolMessage(result("a", "second")),
				assistant("done"),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
				toolMessage(result("a", "first")),
				assistant("done"),
			},
		},
		{
			name: "duplicate and empty call ids are dropped",
			history: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz"), call("a", "generateQuiz"), call("", "checkAnswer")),
				toolMessage(result("a", "ok")),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
				toolMessage(result("a", "ok")),
			},
		},
		{
			name: "result placed before its call is dropped",
			history: []models.AgentMessage{
				user("quiz me"),
				toolMessage(result("a", "early")),
				assistant("", call("a", "generateQuiz")),
			},
			want: []models.AgentMessage{
				user("quiz me"),
				assistant("", call("a", "generateQuiz")),
			},
		},
		{
			name: "approval signal for a trailing call is kept",
			history: []models.AgentMessage{
				user("remind me"),
				assistant("", call("r", "scheduleReminder")),
				toolMessage(signal("r", models.ApprovalApproved)),
			},
			want: []models.AgentMessage{
				user("remind me"),
				assistant("", call("r", "scheduleReminder")),
				toolMessage(signal("r", models.ApprovalApproved)),
			},
		},
		{
			name: "only the first signal for a call is kept",
			history: []models.AgentMessage{
				user("remind me"),
				assistant("", call("r", "scheduleReminder")),
				toolMessage(signal("r", models.ApprovalApproved), signal("r", models.ApprovalDenied)),
			},
			want: []models.AgentMessage{
				user("remind me"),
				assistant("", call("r", "scheduleReminder")),
				toolMessage(signal("r", models.ApprovalApproved)),
			},
		},
		{
			name: "signal is dropped once a real result exists",
			history: []models.AgentMessage{
				user("remind me"),
				assistant("", call("r", "scheduleReminder")),
				toolMessage(signal("r", models.ApprovalApproved)),
				toolMessage(result("r", "scheduled")),
			},
			want: []models.AgentMessage{
				user("remind me"),
				assistant("", call("r", "scheduleReminder")),
				toolMessage(result("r", "scheduled")),
			},
		},
		{
			name: "signal for an interrupted call is dropped with the call",
			history: []models.AgentMessage{
				user("remind me"),
				assistant("", call("r", "scheduleReminder")),
				toolMessage(signal("r", models.ApprovalApproved)),
				user("never mind"),
			},
			want: []models.AgentMessage{
				user("remind me"),
				user("never mind"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.history)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Sanitize(got), "sanitizing twice must not change the result")
		})
	}
}

func TestSanitizeEmpty(t *testing.T) {
	assert.Empty(t, Sanitize(nil))
}

func TestSanitizeDoesNotModifyInput(t *testing.T) {
	history := []models.AgentMessage{
		user("quiz me"),
		assistant("", call("a", "generateQuiz"), call("a", "generateQuiz")),
		toolMessage(result("a", "ok")),
	}

	Sanitize(history)

	assert.Len(t, history[1].ToolCalls, 2)
}
