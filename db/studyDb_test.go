package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"studybuddy/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPartition(t *testing.T) *Partition {
	t.Helper()

	path := filepath.Join(t.TempDir(), "study.db")
	p, err := OpenSQLitePartition(context.Background(), "test", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func ptr(s string) *string { return &s }

func createSession(t *testing.T, p *Partition, topic string) string {
	t.Helper()
	session := &models.StudySession{Topic: topic}
	require.NoError(t, p.CreateSession(context.Background(), session))
	return session.ID
}

func createResult(t *testing.T, p *Partition, sessionID string, correct bool) {
	t.Helper()
	result := &models.QuizResult{
		SessionID:     sessionID,
		Question:      "q",
		UserAnswer:    ptr("a"),
		CorrectAnswer: "b",
		IsCorrect:     correct,
	}
	require.NoError(t, p.CreateResult(context.Background(), result))
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "study.db")

	p, err := OpenSQLitePartition(ctx, "a", path)
	require.NoError(t, err)
	require.NoError(t, p.EnsureSchema(ctx))
	require.NoError(t, p.EnsureSchema(ctx))
	createSession(t, p, "Biology")
	require.NoError(t, p.Close())

	reopened, err := OpenSQLitePartition(ctx, "a", path)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.EnsureSchema(ctx))
	topics, err := reopened.GetTopicsStudied(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Biology", topics[0].Topic)
}

func sqliteTables(t *testing.T, p *Partition) []string {
	t.Helper()
	rows, err := p.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestEnsureSchemaCreatesOnlyStudyTables(t *testing.T) {
	p := newTestPartition(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.EnsureSchema(ctx))
	}
	assert.Equal(t, []string{"quiz_results", "study_sessions"}, sqliteTables(t, p))

	_, err := p.LoadMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat_messages", "quiz_results", "study_sessions"}, sqliteTables(t, p))
}

func TestEnsureSchemaFailureCanBeRetried(t *testing.T) {
	p := newTestPartition(t)
	require.NoError(t, p.db.Close())

	err := p.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.False(t, p.schemaReady)
}

func TestCreateSessionAssignsIdentity(t *testing.T) {
	p := newTestPartition(t)
	session := &models.StudySession{Topic: "Photosynthesis"}

	require.NoError(t, p.CreateSession(context.Background(), session))

	assert.NotEmpty(t, session.ID)
	assert.False(t, session.CreatedAt.IsZero())
}

func TestCreateResultAcceptsUnknownSession(t *testing.T) {
	p := newTestPartition(t)
	ctx := context.Background()

	result := &models.QuizResult{
		SessionID:     "no-such-session",
		Question:      "What is 2+2?",
		CorrectAnswer: "4",
		IsCorrect:     true,
	}
	require.NoError(t, p.CreateResult(ctx, result))

	results, err := p.GetResultsBySession(ctx, "no-such-session")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].UserAnswer)
	assert.Nil(t, results[0].Explanation)
	assert.True(t, results[0].IsCorrect)
}

func TestResultsAreAppendOnly(t *testing.T) {
	p := newTestPartition(t)
	ctx := context.Background()
	sessionID := createSession(t, p, "Chemistry")

	createResult(t, p, sessionID, true)
	before, err := p.GetResultsBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	createResult(t, p, sessionID, false)
	createSession(t, p, "Chemistry")

	after, err := p.GetResultsBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].IsCorrect, after[0].IsCorrect)
	assert.Equal(t, before[0].Question, after[0].Question)
}

func TestOverallAccuracyIsRounded(t *testing.T) {
	p := newTestPartition(t)
	sessionID := createSession(t, p, "Math")

	for i := 0; i < 7; i++ {
		createResult(t, p, sessionID, i < 5)
	}

	stats, err := p.GetOverallStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalQuestionsAnswered)
	assert.Equal(t, 5, stats.CorrectAnswers)
	assert.Equal(t, 71, stats.Accuracy)
}

func TestOverallStatsEmpty(t *testing.T) {
	p := newTestPartition(t)

	stats, err := p.GetOverallStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OverallStats{}, stats)
}

func TestTopicsStudiedOrdering(t *testing.T) {
	p := newTestPartition(t)
	createSession(t, p, "History")
	createSession(t, p, "Art")
	createSession(t, p, "History")
	createSession(t, p, "Biology")

	topics, err := p.GetTopicsStudied(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.TopicCount{
		{Topic: "History", SessionCount: 2},
		{Topic: "Art", SessionCount: 1},
		{Topic: "Biology", SessionCount: 1},
	}, topics)
}

func TestRecentSessionsNewestFirst(t *testing.T) {
	p := newTestPartition(t)

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, createSession(t, p, "Topic"))
		time.Sleep(2 * time.Millisecond)
	}
	createResult(t, p, ids[5], true)
	createResult(t, p, ids[5], false)

	recent, err := p.GetRecentSessions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)

	assert.Equal(t, ids[5], recent[0].SessionID)
	assert.Equal(t, 2, recent[0].QuestionsAnswered)
	assert.Equal(t, 1, recent[0].CorrectCount)
	assert.Equal(t, 50, recent[0].Accuracy)
	assert.Equal(t, ids[1], recent[4].SessionID)
	assert.Equal(t, 0, recent[4].QuestionsAnswered)
	assert.Equal(t, 0, recent[4].Accuracy)
	assert.False(t, recent[0].Date.IsZero())
}

func TestTopicStatsSubstringMatch(t *testing.T) {
	p := newTestPartition(t)
	basics := createSession(t, p, "Python Basics")
	advanced := createSession(t, p, "Advanced Python")
	other := createSession(t, p, "Go Concurrency")

	createResult(t, p, basics, true)
	createResult(t, p, advanced, false)
	createResult(t, p, advanced, true)
	createResult(t, p, other, true)

	stats, err := p.GetTopicStats(context.Background(), "python")
	require.NoError(t, err)
	assert.Equal(t, "python", stats.Topic)
	assert.Equal(t, 3, stats.TotalQuestions)
	assert.Equal(t, 2, stats.CorrectAnswers)
	assert.Equal(t, 67, stats.Accuracy)
}

func TestTopicStatsTreatsWildcardsLiterally(t *testing.T) {
	p := newTestPartition(t)
	sessionID := createSession(t, p, "abc")
	createResult(t, p, sessionID, true)

	stats, err := p.GetTopicStats(context.Background(), "a_c")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalQuestions)
	assert.Equal(t, 0, stats.Accuracy)
}

func TestRebind(t *testing.T) {
	pg := dialect{name: "postgres", schema: "study_x"}
	assert.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))
	assert.Equal(t, `"study_x".quiz_results`, pg.table("quiz_results"))

	lite := dialect{name: "sqlite"}
	assert.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
	assert.Equal(t, "quiz_results", lite.table("quiz_results"))
}

func TestPartitionNamesAreStableAndDistinct(t *testing.T) {
	assert.Equal(t, partitionFileName("user 1"), partitionFileName("user 1"))
	assert.NotEqual(t, partitionFileName("user 1"), partitionFileName("user_1"))
	assert.Regexp(t, `^user_1-[0-9a-f]{12}\.db$`, partitionFileName("user 1"))
	assert.Regexp(t, `^partition-[0-9a-f]{12}\.db$`, partitionFileName("../.."))
	assert.Regexp(t, `^study_[0-9a-f]{16}$`, partitionSchemaName("user 1"))
}

func TestSQLiteOpenerSeparatesPartitions(t *testing.T) {
	ctx := context.Background()
	opener, err := NewSQLiteOpener(t.TempDir())
	require.NoError(t, err)

	a, err := opener.Open(ctx, "alpha")
	require.NoError(t, err)
	defer a.Close()
	b, err := opener.Open(ctx, "beta")
	require.NoError(t, err)
	defer b.Close()

	createSession(t, a, "Only in alpha")

	topics, err := b.GetTopicsStudied(ctx)
	require.NoError(t, err)
	assert.Empty(t, topics)
}
