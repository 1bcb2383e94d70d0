package services

import (
	"testing"
	"time"

	"github.com/exameprep/quiz-attempt-service/internal/models"
)

func timedSnapshot(limitMinutes int) *models.QuizSnapshot {
	return &models.QuizSnapshot{
		QuizID:           1,
		Version:          1,
		TimeLimitMinutes: &limitMinutes,
	}
}

func TestCheckTime_NoLimit(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	attempt := &models.QuizAttempt{StartedAt: start}

	status := CheckTime(attempt, &models.QuizSnapshot{}, start.Add(2*time.Hour))

	if status.Overdue {
		t.Error("untimed attempt must never be overdue")
	}
	if status.RemainingSeconds != nil {
		t.Errorf("RemainingSeconds = %v, want nil for untimed quiz", *status.RemainingSeconds)
	}
	if status.ElapsedSeconds != 7200 {
		t.Errorf("ElapsedSeconds = %d, want 7200", status.ElapsedSeconds)
	}
}

func TestCheckTime_WithinLimit(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	attempt := &models.QuizAttempt{StartedAt: start}

	status := CheckTime(attempt, timedSnapshot(10), start.Add(4*time.Minute))

	if status.Overdue {
		t.Error("attempt at minute 4 of 10 must not be overdue")
	}
	if status.RemainingSeconds == nil || *status.RemainingSeconds != 360 {
		t.Errorf("RemainingSeconds = %v, want 360", status.RemainingSeconds)
	}
	if status.Deadline == nil || !status.Deadline.Equal(start.Add(10*time.Minute)) {
		t.Errorf("Deadline = %v, want %v", status.Deadline, start.Add(10*time.Minute))
	}
}

func TestCheckTime_Overdue(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	attempt := &models.QuizAttempt{StartedAt: start}

	status := CheckTime(attempt, timedSnapshot(10), start.Add(11*time.Minute))

	if !status.Overdue {
		t.Error("attempt at minute 11 of 10 must be overdue")
	}
	if status.RemainingSeconds == nil || *status.RemainingSeconds != 0 {
		t.Errorf("RemainingSeconds = %v, want 0 (never negative)", status.RemainingSeconds)
	}
}

func TestCheckTime_ExactBoundary(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	attempt := &models.QuizAttempt{StartedAt: start}

	status := CheckTime(attempt, timedSnapshot(10), start.Add(10*time.Minute))

	if !status.Overdue {
		t.Error("attempt exactly at the boundary is overdue")
	}
}

func TestClampFinishTime(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	attempt := &models.QuizAttempt{StartedAt: start}
	deadline := start.Add(10 * time.Minute)

	t.Run("before deadline uses call time", func(t *testing.T) {
		now := start.Add(7 * time.Minute)
		if got := ClampFinishTime(attempt, timedSnapshot(10), now); !got.Equal(now) {
			t.Errorf("ClampFinishTime = %v, want %v", got, now)
		}
	})

	t.Run("after deadline clamps to boundary", func(t *testing.T) {
		now := start.Add(11 * time.Minute)
		if got := ClampFinishTime(attempt, timedSnapshot(10), now); !got.Equal(deadline) {
			t.Errorf("ClampFinishTime = %v, want deadline %v", got, deadline)
		}
	})

	t.Run("no limit uses call time", func(t *testing.T) {
		now := start.Add(5 * time.Hour)
		if got := ClampFinishTime(attempt, &models.QuizSnapshot{}, now); !got.Equal(now) {
			t.Errorf("ClampFinishTime = %v, want %v", got, now)
		}
	})
}
