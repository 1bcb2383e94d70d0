package services

import (
	"github.com/exameprep/quiz-attempt-service/internal/models"
)

// ScoringResult holds the frozen scoring fields of a finished attempt.
type ScoringResult struct {
	CorrectCount   int
	TotalQuestions int
	ScorePercent   int
	PointsObtained int
	PointsTotal    int
}

// ScoreAttempt grades an answer set against the quiz snapshot captured at
// attempt start. The snapshot is the only source of truth for correctness;
// the live catalog is never consulted here.
//
// Unanswered questions count as incorrect and zero points. The denominator is
// always the full snapshot question count, so skipping questions never
// inflates the percentage.
func ScoreAttempt(snapshot *models.QuizSnapshot, answers []*models.AttemptAnswer) ScoringResult {
	result := ScoringResult{
		TotalQuestions: len(snapshot.Questions),
	}

	byQuestion := make(map[uint]*models.AttemptAnswer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	for _, question := range snapshot.Questions {
		points := question.Points
		if points <= 0 {
			points = 1
		}
		result.PointsTotal += points

		answer, ok := byQuestion[question.ID]
		if !ok {
			continue
		}
		if answer.SelectedAlternativeID == question.CorrectAlternativeID {
			result.CorrectCount++
			result.PointsObtained += points
		}
	}

	result.ScorePercent = percentRoundHalfUp(result.CorrectCount, result.TotalQuestions)
	return result
}

// percentRoundHalfUp computes correct/total as an integer percentage,
// rounding half up: 0.5 percentage points round towards 100, so 1/8 -> 13.
// Integer arithmetic only, no floating point drift.
func percentRoundHalfUp(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (correct*100*2 + total) / (total * 2)
}

// GradeAnswer reports whether the selected alternative is the snapshot's
// correct one for the question.
func GradeAnswer(question *models.SnapshotQuestion, selectedAlternativeID string) bool {
	return selectedAlternativeID == question.CorrectAlternativeID
}
