package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"studybuddy/logger"
	"studybuddy/models"
	"studybuddy/services"
	"studybuddy/services/llm"
)

const (
	defaultDifficulty        = models.DifficultyMedium
	defaultNumberOfQuestions = 5
)

const statsFailureInstruction = "The study statistics could not be loaded right now. Apologize briefly and warmly, " +
	"do not retry, and offer to keep practicing with a new quiz in the meantime."

// StudyTools returns the quiz tools bound to one instance's study service.
func StudyTools(study *services.StudyService) []AgentTool {
	return []AgentTool{
		GenerateQuizTool{study: study},
		CheckAnswerTool{study: study},
		GetStudyStatsTool{study: study},
		SaveProgressTool{study: study},
	}
}

type GenerateQuizInput struct {
	Topic             string `json:"topic" jsonschema:"description=The subject to quiz the student on" validate:"required"`
	Difficulty        string `json:"difficulty,omitempty" jsonschema:"enum=easy,enum=medium,enum=hard,default=medium,description=Question difficulty" validate:"omitempty,oneof=easy medium hard"`
	NumberOfQuestions *int   `json:"numberOfQuestions,omitempty" jsonschema:"minimum=1,maximum=10,default=5,description=How many questions to ask" validate:"omitempty,min=1,max=10"`
}

type generateQuizOutput struct {
	SessionID         string `json:"sessionId"`
	Topic             string `json:"topic"`
	Difficulty        string `json:"difficulty"`
	NumberOfQuestions int    `json:"numberOfQuestions"`
	Instruction       string `json:"instruction"`
	Degraded          bool   `json:"degraded,omitempty"`
}

type GenerateQuizTool struct {
	study *services.StudyService
}

func (g GenerateQuizTool) Name() string {
	return "generateQuiz"
}

func (g GenerateQuizTool) Description() string {
	return "Starts a new quiz session on a topic. Call this before asking any quiz questions; it returns the session id used to record answers."
}

func (g GenerateQuizTool) InputSchema() llm.ToolSchema {
	return generateToolSchema[GenerateQuizInput]()
}

func (g GenerateQuizTool) RequiresConfirmation() bool {
	return false
}

func (g GenerateQuizTool) Call(ctx context.Context, input string) (string, error) {
	params, err := decodeInput[GenerateQuizInput](g.Name(), input)
	if err != nil {
		return "", err
	}

	difficulty := params.Difficulty
	if difficulty == "" {
		difficulty = defaultDifficulty
	}
	count := defaultNumberOfQuestions
	if params.NumberOfQuestions != nil {
		count = *params.NumberOfQuestions
	}

	session, err := g.study.StartSession(ctx, params.Topic)
	if session == nil {
		return "", err
	}

	out := generateQuizOutput{
		SessionID:         session.ID,
		Topic:             session.Topic,
		Difficulty:        difficulty,
		NumberOfQuestions: count,
		Instruction:       quizInstruction(session.Topic, difficulty, count),
	}
	if err != nil {
		logger.Log.Warnf("Quiz session %s was not persisted: %v", session.ID, err)
		out.Degraded = true
	}

	return marshalToolOutput(out)
}

func quizInstruction(topic, difficulty string, count int) string {
	return fmt.Sprintf("Create %d %s-level quiz questions about %q. Mix the formats: multiple choice with exactly 4 options labeled A, B, C and D, "+
		"true/false, and short answer. Present ONE question at a time and wait for the student's answer before moving on. "+
		"After each answer, call checkAnswer with this sessionId.", count, difficulty, topic)
}

type CheckAnswerInput struct {
	SessionID     string  `json:"sessionId" jsonschema:"description=The session id returned by generateQuiz" validate:"required"`
	Question      string  `json:"question" jsonschema:"description=The question that was asked" validate:"required"`
	StudentAnswer *string `json:"studentAnswer" jsonschema:"description=The answer the student gave" validate:"required"`
	CorrectAnswer string  `json:"correctAnswer" jsonschema:"description=The correct answer" validate:"required"`
	IsCorrect     *bool   `json:"isCorrect" jsonschema:"description=Whether the student's answer is correct" validate:"required"`
}

type checkAnswerOutput struct {
	ResultID      string `json:"resultId"`
	IsCorrect     bool   `json:"isCorrect"`
	StudentAnswer string `json:"studentAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	Instruction   string `json:"instruction"`
	Degraded      bool   `json:"degraded,omitempty"`
}

type CheckAnswerTool struct {
	study *services.StudyService
}

func (c CheckAnswerTool) Name() string {
	return "checkAnswer"
}

func (c CheckAnswerTool) Description() string {
	return "Records the student's answer to a quiz question. You decide whether the answer is correct and pass that judgement in isCorrect."
}

func (c CheckAnswerTool) InputSchema() llm.ToolSchema {
	return generateToolSchema[CheckAnswerInput]()
}

func (c CheckAnswerTool) RequiresConfirmation() bool {
	return false
}

func (c CheckAnswerTool) Call(ctx context.Context, input string) (string, error) {
	params, err := decodeInput[CheckAnswerInput](c.Name(), input)
	if err != nil {
		return "", err
	}

	result := &models.QuizResult{
		SessionID:     params.SessionID,
		Question:      params.Question,
		UserAnswer:    params.StudentAnswer,
		CorrectAnswer: params.CorrectAnswer,
		IsCorrect:     *params.IsCorrect,
	}

	out := checkAnswerOutput{
		IsCorrect:     result.IsCorrect,
		StudentAnswer: *params.StudentAnswer,
		CorrectAnswer: params.CorrectAnswer,
		Instruction:   answerInstruction(result.IsCorrect),
	}

	if err := c.study.RecordResult(ctx, result); err != nil {
		if result.ID == "" {
			return "", err
		}
		logger.Log.Warnf("Quiz result %s was not persisted: %v", result.ID, err)
		out.Degraded = true
	}
	out.ResultID = result.ID

	return marshalToolOutput(out)
}

const (
	correctAnswerInstruction = "The student answered correctly! Congratulate them warmly, briefly explain why the answer is right, " +
		"and share one fun fact related to the question before moving on to the next question."
	incorrectAnswerInstruction = "The student's answer was not correct. Gently explain the correct answer and why it is right, " +
		"offer a mnemonic or memory trick that helps remember it, and encourage them before moving on to the next question."
)

func answerInstruction(correct bool) string {
	if correct {
		return correctAnswerInstruction
	}
	return incorrectAnswerInstruction
}

type GetStudyStatsInput struct {
	Topic string `json:"topic,omitempty" jsonschema:"description=Optional topic to filter statistics by (substring match)"`
}

type studyStatsOutput struct {
	*models.StudyStats
	Instruction string `json:"instruction"`
}

type studyErrorOutput struct {
	Error       string `json:"error"`
	Instruction string `json:"instruction"`
}

type GetStudyStatsTool struct {
	study *services.StudyService
}

func (g GetStudyStatsTool) Name() string {
	return "getStudyStats"
}

func (g GetStudyStatsTool) Description() string {
	return "Returns the student's study history: overall accuracy, topics studied, recent sessions and optionally statistics for one topic."
}

func (g GetStudyStatsTool) InputSchema() llm.ToolSchema {
	return generateToolSchema[GetStudyStatsInput]()
}

func (g GetStudyStatsTool) RequiresConfirmation() bool {
	return false
}

func (g GetStudyStatsTool) Call(ctx context.Context, input string) (string, error) {
	params, err := decodeInput[GetStudyStatsInput](g.Name(), input)
	if err != nil {
		return "", err
	}

	stats, err := g.study.GetStats(ctx, params.Topic)
	if err != nil {
		return marshalToolOutput(studyErrorOutput{
			Error:       "Failed to retrieve study statistics",
			Instruction: statsFailureInstruction,
		})
	}

	return marshalToolOutput(studyStatsOutput{
		StudyStats:  stats,
		Instruction: statsInstruction(stats),
	})
}

func statsInstruction(stats *models.StudyStats) string {
	if stats.Overall.TotalQuestionsAnswered == 0 {
		return "The student has not answered any questions yet. Encourage them to start their first quiz and suggest a few topics."
	}
	instruction := "Present these statistics in an encouraging, easy-to-read way. Celebrate progress, point out the strongest topics, " +
		"and suggest what to review next."
	if stats.TopicStats != nil && len(stats.TopicStats.Suggestions) > 0 {
		instruction += " No results matched the requested topic; ask whether the student meant one of the suggested topics."
	}
	return instruction
}

type SaveProgressInput struct {
	SessionID     string  `json:"sessionId" jsonschema:"description=The session id returned by generateQuiz" validate:"required"`
	Question      string  `json:"question" jsonschema:"description=The question that was asked" validate:"required"`
	UserAnswer    *string `json:"userAnswer" jsonschema:"description=The answer the student gave" validate:"required"`
	CorrectAnswer string  `json:"correctAnswer" jsonschema:"description=The correct answer" validate:"required"`
	IsCorrect     *bool   `json:"isCorrect" jsonschema:"description=Whether the student's answer is correct" validate:"required"`
	Explanation   *string `json:"explanation,omitempty" jsonschema:"description=Optional explanation of the correct answer"`
}

type saveProgressOutput struct {
	Success  bool   `json:"success"`
	ResultID string `json:"resultId,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

type SaveProgressTool struct {
	study *services.StudyService
}

func (s SaveProgressTool) Name() string {
	return "saveProgress"
}

func (s SaveProgressTool) Description() string {
	return "Saves a quiz result together with an optional explanation. Reports whether the save succeeded."
}

func (s SaveProgressTool) InputSchema() llm.ToolSchema {
	return generateToolSchema[SaveProgressInput]()
}

func (s SaveProgressTool) RequiresConfirmation() bool {
	return false
}

func (s SaveProgressTool) Call(ctx context.Context, input string) (string, error) {
	params, err := decodeInput[SaveProgressInput](s.Name(), input)
	if err != nil {
		return "", err
	}

	result := &models.QuizResult{
		SessionID:     params.SessionID,
		Question:      params.Question,
		UserAnswer:    params.UserAnswer,
		CorrectAnswer: params.CorrectAnswer,
		IsCorrect:     *params.IsCorrect,
		Explanation:   params.Explanation,
	}

	if err := s.study.RecordResult(ctx, result); err != nil {
		return marshalToolOutput(saveProgressOutput{Success: false, Error: err.Error()})
	}

	return marshalToolOutput(saveProgressOutput{
		Success:  true,
		ResultID: result.ID,
		Message:  "Progress saved successfully",
	})
}

func marshalToolOutput(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool output: %w", err)
	}
	return string(out), nil
}
