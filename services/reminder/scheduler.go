package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"studybuddy/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler runs reminder jobs, either once at a fixed time or on a standard
// five-field cron expression.
type Scheduler struct {
	cron *cron.Cron

	// mu orders one-shot registration before the job's self-removal.
	mu sync.Mutex
}

func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// onceSchedule fires a single time at at.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// ScheduleOnce runs fn once at the given time, which must be in the future.
func (s *Scheduler) ScheduleOnce(at time.Time, fn func()) (cron.EntryID, error) {
	if !at.After(time.Now()) {
		return 0, fmt.Errorf("reminder time %s is not in the future", at.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id cron.EntryID
	id = s.cron.Schedule(onceSchedule{at: at}, cron.FuncJob(func() {
		fn()
		s.Remove(id)
	}))

	logger.Log.Infof("Scheduled one-shot reminder %d at %s", id, at.Format(time.RFC3339))
	return id, nil
}

// ScheduleCron runs fn on every match of a standard cron expression.
func (s *Scheduler) ScheduleCron(spec string, fn func()) (cron.EntryID, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	id := s.cron.Schedule(schedule, cron.FuncJob(fn))
	logger.Log.Infof("Scheduled recurring reminder %d with %q", id, spec)
	return id, nil
}

// Next reports when the entry runs next, or the zero time if it never will.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Remove(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(id)
}
