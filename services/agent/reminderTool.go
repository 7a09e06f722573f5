package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studybuddy/services/llm"
	"studybuddy/services/reminder"

	"github.com/robfig/cron/v3"
)

const maxReminderDelay = 7 * 24 * time.Hour

type ScheduleReminderInput struct {
	Message      string `json:"message" jsonschema:"description=What to remind the student about" validate:"required"`
	DelaySeconds *int   `json:"delaySeconds,omitempty" jsonschema:"minimum=1,description=Remind once after this many seconds" validate:"omitempty,min=1"`
	Cron         string `json:"cron,omitempty" jsonschema:"description=Remind repeatedly on this five-field cron expression"`
}

type scheduleReminderOutput struct {
	Scheduled  bool      `json:"scheduled"`
	ReminderID int       `json:"reminderId"`
	NextRun    time.Time `json:"nextRun,omitzero"`
	Recurring  bool      `json:"recurring"`
}

// ScheduleReminderTool schedules a study reminder. It always needs the
// student's approval.
type ScheduleReminderTool struct {
	scheduler *reminder.Scheduler
	deliver   func(message string)
}

func NewScheduleReminderTool(scheduler *reminder.Scheduler, deliver func(message string)) ScheduleReminderTool {
	return ScheduleReminderTool{scheduler: scheduler, deliver: deliver}
}

func (s ScheduleReminderTool) Name() string {
	return "scheduleReminder"
}

func (s ScheduleReminderTool) Description() string {
	return "Schedules a study reminder, either once after delaySeconds or repeatedly on a cron expression. Provide exactly one of the two."
}

func (s ScheduleReminderTool) InputSchema() llm.ToolSchema {
	return generateToolSchema[ScheduleReminderInput]()
}

func (s ScheduleReminderTool) RequiresConfirmation() bool {
	return true
}

func (s ScheduleReminderTool) Call(ctx context.Context, input string) (string, error) {
	params, err := decodeInput[ScheduleReminderInput](s.Name(), input)
	if err != nil {
		return "", err
	}

	hasDelay := params.DelaySeconds != nil
	hasCron := strings.TrimSpace(params.Cron) != ""
	if hasDelay == hasCron {
		return "", &ValidationError{Tool: s.Name(), Err: fmt.Errorf("exactly one of delaySeconds or cron is required")}
	}

	message := params.Message
	job := func() { s.deliver(message) }

	var id cron.EntryID
	out := scheduleReminderOutput{Scheduled: true}
	if hasDelay {
		delay := time.Duration(*params.DelaySeconds) * time.Second
		if delay > maxReminderDelay {
			return "", &ValidationError{Tool: s.Name(), Err: fmt.Errorf("delaySeconds must be at most %d", int(maxReminderDelay.Seconds()))}
		}
		at := time.Now().Add(delay)
		id, err = s.scheduler.ScheduleOnce(at, job)
		out.NextRun = at.UTC()
	} else {
		id, err = s.scheduler.ScheduleCron(params.Cron, job)
		out.Recurring = true
	}
	if err != nil {
		return "", err
	}

	out.ReminderID = int(id)
	if out.Recurring {
		if next := s.scheduler.Next(id); !next.IsZero() {
			out.NextRun = next.UTC()
		}
	}

	return marshalToolOutput(out)
}
