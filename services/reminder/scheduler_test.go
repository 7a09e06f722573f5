package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnceScheduleFiresOnce(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	schedule := onceSchedule{at: at}

	assert.Equal(t, at, schedule.Next(at.Add(-time.Hour)))
	assert.True(t, schedule.Next(at).IsZero())
	assert.True(t, schedule.Next(at.Add(time.Minute)).IsZero())
}

func TestScheduleOnceRejectsPastTimes(t *testing.T) {
	s := NewScheduler()

	_, err := s.ScheduleOnce(time.Now().Add(-time.Second), func() {})
	assert.Error(t, err)
}

func TestScheduleCronValidatesExpression(t *testing.T) {
	s := NewScheduler()

	_, err := s.ScheduleCron("not a cron", func() {})
	assert.Error(t, err)

	id, err := s.ScheduleCron("0 9 * * *", func() {})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestScheduleOnceRuns(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	id, err := s.ScheduleOnce(time.Now().Add(time.Second), func() { fired <- struct{}{} })
	require.NoError(t, err)
	assert.NotZero(t, id)

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("reminder did not fire")
	}
}
