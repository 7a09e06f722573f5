package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"studybuddy/db"
	"studybuddy/logger"
	"studybuddy/models"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
)

const (
	recentSessionLimit = 5
	maxTopicSuggestions = 3
)

type StudyService struct {
	repo db.StudyRepository
}

func NewStudyService(repo db.StudyRepository) *StudyService {
	return &StudyService{repo: repo}
}

// StartSession records a new study session. The returned session always
// carries its id, even when the insert failed.
func (s *StudyService) StartSession(ctx context.Context, topic string) (*models.StudySession, error) {
	logger.Log.Infof("Starting study session creation for topic %q", topic)

	if err := s.validateTopic(topic); err != nil {
		logger.Log.Errorf("Study session validation failed: %v", err)
		return nil, err
	}

	session := &models.StudySession{ID: uuid.NewString(), Topic: strings.TrimSpace(topic)}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		logger.Log.Errorf("Failed to create study session %s: %v", session.ID, err)
		return session, fmt.Errorf("failed to create study session: %w", err)
	}

	logger.Log.Infof("Successfully created study session %s", session.ID)
	return session, nil
}

// RecordResult stores one answered question. Like StartSession, the result id
// is assigned before the insert is attempted.
func (s *StudyService) RecordResult(ctx context.Context, result *models.QuizResult) error {
	if err := s.validateResult(result); err != nil {
		logger.Log.Errorf("Quiz result validation failed: %v", err)
		return err
	}

	logger.Log.Infof("Starting quiz result recording for session %s", result.SessionID)

	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	if err := s.repo.CreateResult(ctx, result); err != nil {
		logger.Log.Errorf("Failed to record quiz result %s: %v", result.ID, err)
		return fmt.Errorf("failed to record quiz result: %w", err)
	}

	logger.Log.Infof("Successfully recorded quiz result %s (correct: %t)", result.ID, result.IsCorrect)
	return nil
}

// GetStats aggregates overall, per-topic and recent-session statistics. When
// topic is non-empty the result also carries a substring-matched topic
// aggregate.
func (s *StudyService) GetStats(ctx context.Context, topic string) (*models.StudyStats, error) {
	logger.Log.Infof("Starting study stats aggregation (topic filter: %q)", topic)

	overall, err := s.repo.GetOverallStats(ctx)
	if err != nil {
		logger.Log.Errorf("Failed to get overall stats: %v", err)
		return nil, fmt.Errorf("failed to get overall stats: %w", err)
	}

	topics, err := s.repo.GetTopicsStudied(ctx)
	if err != nil {
		logger.Log.Errorf("Failed to get studied topics: %v", err)
		return nil, fmt.Errorf("failed to get studied topics: %w", err)
	}

	recent, err := s.repo.GetRecentSessions(ctx, recentSessionLimit)
	if err != nil {
		logger.Log.Errorf("Failed to get recent sessions: %v", err)
		return nil, fmt.Errorf("failed to get recent sessions: %w", err)
	}

	stats := &models.StudyStats{
		Overall:        overall,
		TopicsStudied:  topics,
		RecentSessions: recent,
	}

	topic = strings.TrimSpace(topic)
	if topic != "" {
		topicStats, err := s.repo.GetTopicStats(ctx, topic)
		if err != nil {
			logger.Log.Errorf("Failed to get stats for topic %q: %v", topic, err)
			return nil, fmt.Errorf("failed to get topic stats: %w", err)
		}
		if topicStats.TotalQuestions == 0 {
			topicStats.Suggestions = suggestTopics(topic, topics)
		}
		stats.TopicStats = topicStats
	}

	logger.Log.Infof("Successfully aggregated study stats (%d answered, %d topics)", overall.TotalQuestionsAnswered, len(topics))
	return stats, nil
}

// suggestTopics ranks studied topics by fuzzy closeness to topic.
func suggestTopics(topic string, studied []models.TopicCount) []string {
	names := lo.Map(studied, func(tc models.TopicCount, _ int) string { return tc.Topic })

	ranks := fuzzy.RankFindNormalizedFold(topic, names)
	sort.Sort(ranks)

	suggestions := lo.Map(ranks, func(r fuzzy.Rank, _ int) string { return r.Target })
	suggestions = lo.Uniq(suggestions)
	if len(suggestions) > maxTopicSuggestions {
		suggestions = suggestions[:maxTopicSuggestions]
	}
	return suggestions
}

func (s *StudyService) validateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

func (s *StudyService) validateResult(result *models.QuizResult) error {
	if result == nil {
		return fmt.Errorf("quiz result is required")
	}
	if strings.TrimSpace(result.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(result.Question) == "" {
		return fmt.Errorf("question is required")
	}
	return nil
}
