package models

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleSnapshot() *QuizSnapshot {
	limit := 10
	return &QuizSnapshot{
		QuizID:           7,
		Version:          3,
		TimeLimitMinutes: &limit,
		Questions: []SnapshotQuestion{
			{ID: 1, AlternativeIDs: []string{"a", "b", "c"}, CorrectAlternativeID: "a", Points: 2},
			{ID: 2, AlternativeIDs: []string{"a", "b"}, CorrectAlternativeID: "b", Points: 1},
		},
	}
}

func TestAttemptPersistenceRoundTrip(t *testing.T) {
	snapshotJSON, err := json.Marshal(sampleSnapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	started := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	finished := started.Add(8 * time.Minute)
	responseTime := 42

	original := QuizAttempt{
		ID:              10,
		StudentID:       "student-1",
		QuizID:          7,
		Status:          AttemptCompleted,
		StartedAt:       started,
		FinishedAt:      &finished,
		Snapshot:        snapshotJSON,
		SnapshotVersion: 3,
		CorrectCount:    1,
		TotalQuestions:  2,
		ScorePercent:    50,
		PointsObtained:  2,
		PointsTotal:     3,
		Version:         4,
		Answers: []AttemptAnswer{
			{ID: 100, AttemptID: 10, QuestionID: 1, SelectedAlternativeID: "a", Correct: true, ResponseTimeSeconds: &responseTime},
			{ID: 101, AttemptID: 10, QuestionID: 2, SelectedAlternativeID: "a", Correct: false},
		},
	}

	payload, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal attempt: %v", err)
	}

	var restored QuizAttempt
	if err := json.Unmarshal(payload, &restored); err != nil {
		t.Fatalf("unmarshal attempt: %v", err)
	}

	if restored.Status != AttemptCompleted {
		t.Errorf("expected status %q, got %q", AttemptCompleted, restored.Status)
	}
	if restored.FinishedAt == nil || !restored.FinishedAt.Equal(finished) {
		t.Errorf("finished_at not preserved: %v", restored.FinishedAt)
	}
	if restored.CorrectCount != 1 || restored.TotalQuestions != 2 || restored.ScorePercent != 50 {
		t.Errorf("scoring fields not preserved: correct=%d total=%d percent=%d",
			restored.CorrectCount, restored.TotalQuestions, restored.ScorePercent)
	}
	if restored.PointsObtained != 2 || restored.PointsTotal != 3 {
		t.Errorf("point fields not preserved: obtained=%d total=%d",
			restored.PointsObtained, restored.PointsTotal)
	}
	// Cached attempts travel through this serialization; losing the version
	// would break the optimistic-concurrency update.
	if restored.Version != 4 {
		t.Errorf("version not preserved: %d, want 4", restored.Version)
	}
	if len(restored.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(restored.Answers))
	}
	answer := restored.AnswerFor(1)
	if answer == nil || !answer.Correct || answer.SelectedAlternativeID != "a" {
		t.Errorf("answer for question 1 not preserved: %+v", answer)
	}
	if answer.ResponseTimeSeconds == nil || *answer.ResponseTimeSeconds != responseTime {
		t.Errorf("response time not preserved: %v", answer.ResponseTimeSeconds)
	}

	var snapshot QuizSnapshot
	if err := json.Unmarshal(restored.Snapshot, &snapshot); err != nil {
		t.Fatalf("decode restored snapshot: %v", err)
	}
	if snapshot.Version != 3 || len(snapshot.Questions) != 2 {
		t.Errorf("snapshot not preserved: version=%d questions=%d", snapshot.Version, len(snapshot.Questions))
	}
	if q := snapshot.QuestionByID(1); q == nil || q.CorrectAlternativeID != "a" || q.Points != 2 {
		t.Errorf("snapshot question 1 not preserved: %+v", q)
	}
}

func TestSnapshotDefaultsMissingPointsToOne(t *testing.T) {
	alternatives, _ := json.Marshal([]Alternative{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}})
	quiz := Quiz{
		ID:      3,
		Version: 2,
		Questions: []QuizQuestion{
			{ID: 1, QuizID: 3, Position: 1, Alternatives: alternatives, CorrectAlternativeID: "a"},
			{ID: 2, QuizID: 3, Position: 2, Alternatives: alternatives, CorrectAlternativeID: "b", Points: 5},
		},
	}

	snapshot, err := quiz.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Questions[0].Points != 1 {
		t.Errorf("expected missing points to default to 1, got %d", snapshot.Questions[0].Points)
	}
	if snapshot.Questions[1].Points != 5 {
		t.Errorf("expected points 5, got %d", snapshot.Questions[1].Points)
	}
}

func TestSnapshotQuestionHasAlternative(t *testing.T) {
	q := SnapshotQuestion{ID: 1, AlternativeIDs: []string{"a", "b", "c"}, CorrectAlternativeID: "a"}
	if !q.HasAlternative("b") {
		t.Error("expected alternative b to exist")
	}
	if q.HasAlternative("z") {
		t.Error("expected alternative z to be rejected")
	}
}
