package services

import (
	"time"

	"github.com/exameprep/quiz-attempt-service/internal/models"
)

// TimeStatus is the Time Guard's read of an attempt's clock. It is advisory:
// nothing here mutates the attempt, callers decide what to do with an
// overdue attempt.
type TimeStatus struct {
	ElapsedSeconds   int
	RemainingSeconds *int       // nil when the quiz has no time limit
	Deadline         *time.Time // nil when the quiz has no time limit
	Overdue          bool
}

// CheckTime evaluates an attempt's elapsed and remaining time against the
// snapshot's optional limit. Remaining is floored at zero, never negative.
func CheckTime(attempt *models.QuizAttempt, snapshot *models.QuizSnapshot, now time.Time) TimeStatus {
	status := TimeStatus{
		ElapsedSeconds: int(now.Sub(attempt.StartedAt).Seconds()),
	}
	if status.ElapsedSeconds < 0 {
		status.ElapsedSeconds = 0
	}

	if snapshot.TimeLimitMinutes == nil {
		return status
	}

	deadline := attempt.StartedAt.Add(time.Duration(*snapshot.TimeLimitMinutes) * time.Minute)
	status.Deadline = &deadline

	remaining := int(deadline.Sub(now).Seconds())
	if remaining <= 0 {
		remaining = 0
		status.Overdue = true
	}
	status.RemainingSeconds = &remaining

	return status
}

// ClampFinishTime returns the effective end timestamp for a finishing
// attempt: the current time, or the time-limit boundary when the call arrives
// after expiry. Scores are never computed against a timestamp past the
// deadline.
func ClampFinishTime(attempt *models.QuizAttempt, snapshot *models.QuizSnapshot, now time.Time) time.Time {
	if snapshot.TimeLimitMinutes == nil {
		return now
	}

	deadline := attempt.StartedAt.Add(time.Duration(*snapshot.TimeLimitMinutes) * time.Minute)
	if now.After(deadline) {
		return deadline
	}
	return now
}
