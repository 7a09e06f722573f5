package models

import (
	"math"
	"time"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

type StudySession struct {
	ID        string    `json:"id" db:"id"`
	Topic     string    `json:"topic" db:"topic"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type QuizResult struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	Question      string    `json:"question" db:"question"`
	UserAnswer    *string   `json:"user_answer,omitempty" db:"user_answer"`
	CorrectAnswer string    `json:"correct_answer" db:"correct_answer"`
	IsCorrect     bool      `json:"is_correct" db:"is_correct"`
	Explanation   *string   `json:"explanation,omitempty" db:"explanation"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type OverallStats struct {
	TotalQuestionsAnswered int `json:"totalQuestionsAnswered"`
	CorrectAnswers         int `json:"correctAnswers"`
	Accuracy               int `json:"accuracy"`
}

type TopicCount struct {
	Topic        string `json:"topic"`
	SessionCount int    `json:"sessionCount"`
}

type RecentSession struct {
	SessionID         string    `json:"sessionId"`
	Topic             string    `json:"topic"`
	Date              time.Time `json:"date"`
	QuestionsAnswered int       `json:"questionsAnswered"`
	CorrectCount      int       `json:"correctCount"`
	Accuracy          int       `json:"accuracy"`
}

type TopicStats struct {
	Topic          string   `json:"topic"`
	TotalQuestions int      `json:"totalQuestions"`
	CorrectAnswers int      `json:"correctAnswers"`
	Accuracy       int      `json:"accuracy"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

type StudyStats struct {
	Overall        OverallStats    `json:"overall"`
	TopicsStudied  []TopicCount    `json:"topicsStudied"`
	RecentSessions []RecentSession `json:"recentSessions"`
	TopicStats     *TopicStats     `json:"topicStats"`
}

// Accuracy is the rounded percentage of correct answers, 0 when nothing was answered.
func Accuracy(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}
