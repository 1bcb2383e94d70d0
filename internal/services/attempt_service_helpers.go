package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
)

// ===== LISTING & STATS =====

func (s *attemptService) ListByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error) {
	if filters.Limit <= 0 || filters.Limit > 100 {
		filters.Limit = 20
	}

	attempts, total, err := s.repo.Attempt().GetByStudent(ctx, s.db, studentID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	summaries := make([]AttemptSummary, 0, len(attempts))
	for _, attempt := range attempts {
		summaries = append(summaries, AttemptSummary{
			ID:             attempt.ID,
			QuizID:         attempt.QuizID,
			Status:         attempt.Status,
			StartedAt:      attempt.StartedAt,
			FinishedAt:     attempt.FinishedAt,
			ScorePercent:   attempt.ScorePercent,
			CorrectCount:   attempt.CorrectCount,
			TotalQuestions: attempt.TotalQuestions,
		})
	}

	return &AttemptListResponse{
		Attempts: summaries,
		Total:    total,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}, nil
}

func (s *attemptService) GetQuizStats(ctx context.Context, quizID uint) (*repositories.AttemptStats, error) {
	stats, err := s.repo.Attempt().GetQuizAttemptStats(ctx, s.db, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz stats: %w", err)
	}
	return stats, nil
}

// ===== VIEW BUILDERS =====

func (s *attemptService) buildAttemptView(attempt *models.QuizAttempt, snapshot *models.QuizSnapshot) *AttemptView {
	status := CheckTime(attempt, snapshot, s.now())

	view := &AttemptView{
		ID:               attempt.ID,
		StudentID:        attempt.StudentID,
		QuizID:           attempt.QuizID,
		Status:           attempt.Status,
		StartedAt:        attempt.StartedAt,
		Deadline:         status.Deadline,
		RemainingSeconds: status.RemainingSeconds,
		Overdue:          status.Overdue,
		TotalQuestions:   len(snapshot.Questions),
		Answers:          make([]AnswerView, 0, len(attempt.Answers)),
		PendingQuestions: make([]uint, 0),
	}

	answered := make(map[uint]bool, len(attempt.Answers))
	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		answered[answer.QuestionID] = true
		view.Answers = append(view.Answers, AnswerView{
			QuestionID:            answer.QuestionID,
			SelectedAlternativeID: answer.SelectedAlternativeID,
			Correct:               answer.Correct,
			ResponseTimeSeconds:   answer.ResponseTimeSeconds,
		})
	}
	view.AnsweredCount = len(answered)

	// Snapshot order, so pending questions come back in quiz order.
	for _, question := range snapshot.Questions {
		if !answered[question.ID] {
			view.PendingQuestions = append(view.PendingQuestions, question.ID)
		}
	}

	return view
}

func (s *attemptService) buildResultView(attempt *models.QuizAttempt, snapshot *models.QuizSnapshot) *ResultView {
	var finishedAt time.Time
	if attempt.FinishedAt != nil {
		finishedAt = *attempt.FinishedAt
	}

	view := &ResultView{
		ID:             attempt.ID,
		StudentID:      attempt.StudentID,
		QuizID:         attempt.QuizID,
		Status:         attempt.Status,
		StartedAt:      attempt.StartedAt,
		FinishedAt:     finishedAt,
		TimedOut:       s.finishedAtDeadline(attempt, snapshot),
		CorrectCount:   attempt.CorrectCount,
		TotalQuestions: attempt.TotalQuestions,
		ScorePercent:   attempt.ScorePercent,
		PointsObtained: attempt.PointsObtained,
		PointsTotal:    attempt.PointsTotal,
		Answers:        make([]ResultAnswerView, 0, len(snapshot.Questions)),
	}

	// One row per snapshot question, answered or not. Unanswered questions
	// show up with the correct alternative disclosed and zero points.
	for _, question := range snapshot.Questions {
		row := ResultAnswerView{
			QuestionID:           question.ID,
			CorrectAlternativeID: question.CorrectAlternativeID,
			Points:               question.Points,
		}
		if answer := attempt.AnswerFor(question.ID); answer != nil {
			row.Answered = true
			row.SelectedAlternativeID = answer.SelectedAlternativeID
			row.Correct = answer.Correct
			row.ResponseTimeSeconds = answer.ResponseTimeSeconds
		}
		view.Answers = append(view.Answers, row)
	}

	return view
}

func (s *attemptService) buildProgress(attempt *models.QuizAttempt, snapshot *models.QuizSnapshot, answeredCount int) ProgressView {
	status := CheckTime(attempt, snapshot, s.now())
	return ProgressView{
		AnsweredCount:    answeredCount,
		TotalQuestions:   len(snapshot.Questions),
		RemainingSeconds: status.RemainingSeconds,
		Overdue:          status.Overdue,
	}
}

// finishedAtDeadline reports whether the attempt ran out its full time limit.
func (s *attemptService) finishedAtDeadline(attempt *models.QuizAttempt, snapshot *models.QuizSnapshot) bool {
	if snapshot.TimeLimitMinutes == nil || attempt.FinishedAt == nil {
		return false
	}
	deadline := attempt.StartedAt.Add(time.Duration(*snapshot.TimeLimitMinutes) * time.Minute)
	return !attempt.FinishedAt.Before(deadline)
}

// ===== SHARED HELPERS =====

// decodeSnapshot unmarshals the frozen snapshot stored on the attempt.
func decodeSnapshot(attempt *models.QuizAttempt) (*models.QuizSnapshot, error) {
	var snapshot models.QuizSnapshot
	if err := json.Unmarshal(attempt.Snapshot, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode attempt snapshot: %w", err)
	}
	return &snapshot, nil
}

func toAnswerPointers(answers []models.AttemptAnswer) []*models.AttemptAnswer {
	out := make([]*models.AttemptAnswer, len(answers))
	for i := range answers {
		out[i] = &answers[i]
	}
	return out
}
