package agent

import (
	"context"
	"testing"
	"time"

	"studybuddy/services/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *reminder.Scheduler {
	t.Helper()
	s := reminder.NewScheduler()
	s.Start()
	t.Cleanup(func() { <-s.Stop().Done() })
	return s
}

func TestScheduleReminderValidation(t *testing.T) {
	tool := NewScheduleReminderTool(newTestScheduler(t), func(string) {})

	tests := []struct {
		name  string
		input string
	}{
		{name: "missing message", input: `{"delaySeconds":60}`},
		{name: "neither delay nor cron", input: `{"message":"Review cells"}`},
		{name: "both delay and cron", input: `{"message":"Review cells","delaySeconds":60,"cron":"0 9 * * *"}`},
		{name: "zero delay", input: `{"message":"Review cells","delaySeconds":0}`},
		{name: "delay beyond a week", input: `{"message":"Review cells","delaySeconds":700000}`},
		{name: "invalid cron", input: `{"message":"Review cells","cron":"every morning"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Call(context.Background(), tt.input)
			assert.Error(t, err)
		})
	}
}

func TestScheduleReminderRequiresConfirmation(t *testing.T) {
	tool := NewScheduleReminderTool(newTestScheduler(t), func(string) {})
	assert.True(t, tool.RequiresConfirmation())
}

func TestScheduleReminderOnce(t *testing.T) {
	delivered := make(chan string, 1)
	tool := NewScheduleReminderTool(newTestScheduler(t), func(message string) { delivered <- message })

	out, err := tool.Call(context.Background(), `{"message":"Review photosynthesis","delaySeconds":1}`)
	require.NoError(t, err)

	got := decodeOutput(t, out)
	assert.Equal(t, true, got["scheduled"])
	assert.Equal(t, false, got["recurring"])
	assert.NotEmpty(t, got["nextRun"])

	select {
	case message := <-delivered:
		assert.Equal(t, "Review photosynthesis", message)
	case <-time.After(5 * time.Second):
		t.Fatal("reminder was not delivered")
	}
}

func TestScheduleReminderCron(t *testing.T) {
	tool := NewScheduleReminderTool(newTestScheduler(t), func(string) {})

	out, err := tool.Call(context.Background(), `{"message":"Daily review","cron":"0 9 * * *"}`)
	require.NoError(t, err)

	got := decodeOutput(t, out)
	assert.Equal(t, true, got["recurring"])
	assert.NotZero(t, got["reminderId"])
	assert.NotEmpty(t, got["nextRun"])
}
