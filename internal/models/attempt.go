package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// QuizAttempt is one student's run through one quiz. The quiz snapshot is
// captured at start time and stored on the attempt, so later edits to the
// question bank never change how this attempt is scored. The raw answers are
// the source of truth; the scoring fields are recomputed caches.
type QuizAttempt struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	StudentID string        `json:"student_id" gorm:"not null;index;size:255;uniqueIndex:idx_one_active_attempt,where:status = 'in_progress'"`
	QuizID    uint          `json:"quiz_id" gorm:"not null;index;uniqueIndex:idx_one_active_attempt,where:status = 'in_progress'"`
	Status    AttemptStatus `json:"status" gorm:"default:in_progress;index"`

	// Timing. StartedAt is set once at creation; FinishedAt exactly once on
	// finish and is clamped to the time-limit boundary when finishing late.
	StartedAt  time.Time  `json:"started_at" gorm:"not null"`
	FinishedAt *time.Time `json:"finished_at"`

	// Frozen quiz snapshot (question ids, alternatives, correct alternative,
	// point weights, time limit).
	Snapshot        datatypes.JSON `json:"snapshot" gorm:"type:jsonb;not null"`
	SnapshotVersion int            `json:"quiz_snapshot_version" gorm:"not null;default:1"`

	// Cached scoring fields, recomputed from the answers.
	CorrectCount   int `json:"correct" gorm:"not null;default:0"`
	TotalQuestions int `json:"total" gorm:"not null;default:0"`
	ScorePercent   int `json:"percent" gorm:"not null;default:0"`
	PointsObtained int `json:"points_obtained" gorm:"not null;default:0"`
	PointsTotal    int `json:"points_total" gorm:"not null;default:0"`

	// Optimistic concurrency counter; every persisted mutation bumps it. It
	// travels through the cache serialization, so it must not be omitted.
	Version int `json:"version" gorm:"not null;default:1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Answers []AttemptAnswer `json:"answers" gorm:"foreignKey:AttemptID"`
}

// AttemptAnswer is one student's response to one question within one attempt.
// At most one row exists per (attempt, question); re-answering replaces it.
type AttemptAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;index;uniqueIndex:idx_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_attempt_question"`

	SelectedAlternativeID string `json:"selected_alternative_id" gorm:"not null;size:64"`
	Correct               bool   `json:"correct"`
	ResponseTimeSeconds   *int   `json:"response_time_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QuizAttempt) TableName() string {
	return "quiz_attempts"
}

func (AttemptAnswer) TableName() string {
	return "attempt_answers"
}

// IsFinished reports whether the attempt reached its terminal state.
func (a *QuizAttempt) IsFinished() bool {
	return a.Status == AttemptCompleted
}

// AnswerFor returns the recorded answer for a question, or nil.
func (a *QuizAttempt) AnswerFor(questionID uint) *AttemptAnswer {
	for i := range a.Answers {
		if a.Answers[i].QuestionID == questionID {
			return &a.Answers[i]
		}
	}
	return nil
}
