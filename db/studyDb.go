package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"studybuddy/models"

	"github.com/google/uuid"
)

type StudyRepository interface {
	CreateSession(ctx context.Context, session *models.StudySession) error
	CreateResult(ctx context.Context, result *models.QuizResult) error
	GetResultsBySession(ctx context.Context, sessionID string) ([]*models.QuizResult, error)
	GetOverallStats(ctx context.Context) (models.OverallStats, error)
	GetTopicsStudied(ctx context.Context) ([]models.TopicCount, error)
	GetRecentSessions(ctx context.Context, limit int) ([]models.RecentSession, error)
	GetTopicStats(ctx context.Context, topic string) (*models.TopicStats, error)
}

var _ StudyRepository = (*Partition)(nil)

func (p *Partition) CreateSession(ctx context.Context, session *models.StudySession) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSchemaLocked(ctx); err != nil {
		return err
	}

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = time.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %s (id, topic, created_at) VALUES (?, ?, ?)`, p.dialect.table("study_sessions"))
	if _, err := p.db.ExecContext(ctx, p.dialect.rebind(query), session.ID, session.Topic, p.dialect.timeArg(session.CreatedAt)); err != nil {
		return fmt.Errorf("failed to create study session: %w", err)
	}

	return nil
}

// CreateResult inserts a quiz result. The session reference is not checked.
func (p *Partition) CreateResult(ctx context.Context, result *models.QuizResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSchemaLocked(ctx); err != nil {
		return err
	}

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	result.CreatedAt = time.Now().UTC()

	isCorrect := 0
	if result.IsCorrect {
		isCorrect = 1
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, question, user_answer, correct_answer, is_correct, explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, p.dialect.table("quiz_results"))

	_, err := p.db.ExecContext(ctx, p.dialect.rebind(query),
		result.ID,
		result.SessionID,
		result.Question,
		nullableString(result.UserAnswer),
		result.CorrectAnswer,
		isCorrect,
		nullableString(result.Explanation),
		p.dialect.timeArg(result.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create quiz result: %w", err)
	}

	return nil
}

func (p *Partition) GetResultsBySession(ctx context.Context, sessionID string) ([]*models.QuizResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSchemaLocked(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, question, user_answer, correct_answer, is_correct, explanation, created_at
		FROM %s
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`, p.dialect.table("quiz_results"))

	rows, err := p.db.QueryContext(ctx, p.dialect.rebind(query), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quiz results: %w", err)
	}
	defer rows.Close()

	var results []*models.QuizResult
	for rows.Next() {
		result := &models.QuizResult{}
		var userAnswer, explanation sql.NullString
		var isCorrect int
		var createdAt dbTime

		if err := rows.Scan(&result.ID, &result.SessionID, &result.Question, &userAnswer,
			&result.CorrectAnswer, &isCorrect, &explanation, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan quiz result: %w", err)
		}

		if userAnswer.Valid {
			result.UserAnswer = &userAnswer.String
		}
		if explanation.Valid {
			result.Explanation = &explanation.String
		}
		result.IsCorrect = isCorrect != 0
		result.CreatedAt = createdAt.Time
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quiz results: %w", err)
	}

	return results, nil
}

func (p *Partition) GetOverallStats(ctx context.Context) (models.OverallStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats models.OverallStats
	if err := p.ensureSchemaLocked(ctx); err != nil {
		return stats, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(is_correct), 0) FROM %s`, p.dialect.table("quiz_results"))
	if err := p.db.QueryRowContext(ctx, query).Scan(&stats.TotalQuestionsAnswered, &stats.CorrectAnswers); err != nil {
		return stats, fmt.Errorf("failed to query overall stats: %w", err)
	}
	stats.Accuracy = models.Accuracy(stats.CorrectAnswers, stats.TotalQuestionsAnswered)

	return stats, nil
}

// GetTopicsStudied lists topics by session count, most studied first.
func (p *Partition) GetTopicsStudied(ctx context.Context) ([]models.TopicCount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSchemaLocked(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT topic, COUNT(*) AS session_count
		FROM %s
		GROUP BY topic
		ORDER BY session_count DESC, topic ASC`, p.dialect.table("study_sessions"))

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	topics := []models.TopicCount{}
	for rows.Next() {
		var tc models.TopicCount
		if err := rows.Scan(&tc.Topic, &tc.SessionCount); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topics: %w", err)
	}

	return topics, nil
}

func (p *Partition) GetRecentSessions(ctx context.Context, limit int) ([]models.RecentSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSchemaLocked(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT s.id, s.topic, s.created_at, COUNT(r.id), COALESCE(SUM(r.is_correct), 0)
		FROM %s s
		LEFT JOIN %s r ON r.session_id = s.id
		GROUP BY s.id, s.topic, s.created_at
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT ?`, p.dialect.table("study_sessions"), p.dialect.table("quiz_results"))

	rows, err := p.db.QueryContext(ctx, p.dialect.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.RecentSession{}
	for rows.Next() {
		var rs models.RecentSession
		var createdAt dbTime
		if err := rows.Scan(&rs.SessionID, &rs.Topic, &createdAt, &rs.QuestionsAnswered, &rs.CorrectCount); err != nil {
			return nil, fmt.Errorf("failed to scan recent session: %w", err)
		}
		rs.Date = createdAt.Time
		rs.Accuracy = models.Accuracy(rs.CorrectCount, rs.QuestionsAnswered)
		sessions = append(sessions, rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recent sessions: %w", err)
	}

	return sessions, nil
}

// GetTopicStats aggregates results of every session whose topic contains
// topic, case-insensitively.
func (p *Partition) GetTopicStats(ctx context.Context, topic string) (*models.TopicStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSchemaLocked(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT COUNT(r.id), COALESCE(SUM(r.is_correct), 0)
		FROM %s r
		JOIN %s s ON r.session_id = s.id
		WHERE LOWER(s.topic) LIKE LOWER(?) ESCAPE '\'`, p.dialect.table("quiz_results"), p.dialect.table("study_sessions"))

	stats := &models.TopicStats{Topic: topic}
	pattern := "%" + escapeLike(topic) + "%"
	if err := p.db.QueryRowContext(ctx, p.dialect.rebind(query), pattern).Scan(&stats.TotalQuestions, &stats.CorrectAnswers); err != nil {
		return nil, fmt.Errorf("failed to query topic stats: %w", err)
	}
	stats.Accuracy = models.Accuracy(stats.CorrectAnswers, stats.TotalQuestions)

	return stats, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
