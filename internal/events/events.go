package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types published by the attempt engine
const (
	EventAttemptStarted  = "attempt.started"
	EventAttemptFinished = "attempt.finished"
)

// Event is the envelope every published message shares.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent builds an envelope around a typed payload.
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "quiz-attempt-service",
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// AttemptStartedEvent is emitted when a student opens a new attempt.
type AttemptStartedEvent struct {
	AttemptID        uint       `json:"attempt_id"`
	StudentID        string     `json:"student_id"`
	QuizID           uint       `json:"quiz_id"`
	SnapshotVersion  int        `json:"snapshot_version"`
	TotalQuestions   int        `json:"total_questions"`
	TimeLimitMinutes *int       `json:"time_limit_minutes,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	Deadline         *time.Time `json:"deadline,omitempty"`
}

// AttemptFinishedEvent is emitted exactly once, when an attempt reaches its
// terminal state. Downstream consumers (rankings, study-plan, notifications)
// key off this.
type AttemptFinishedEvent struct {
	AttemptID      uint      `json:"attempt_id"`
	StudentID      string    `json:"student_id"`
	QuizID         uint      `json:"quiz_id"`
	CorrectCount   int       `json:"correct_count"`
	TotalQuestions int       `json:"total_questions"`
	ScorePercent   int       `json:"score_percent"`
	PointsObtained int       `json:"points_obtained"`
	PointsTotal    int       `json:"points_total"`
	TimedOut       bool      `json:"timed_out"`
	FinishedAt     time.Time `json:"finished_at"`
}
