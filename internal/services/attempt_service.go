package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/exameprep/quiz-attempt-service/internal/events"
	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
	"github.com/exameprep/quiz-attempt-service/internal/validator"
)

// conflictRetries bounds the automatic retry on optimistic-concurrency
// conflicts. Anything past this surfaces ErrConcurrentModification.
const conflictRetries = 2

type attemptService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	retries   int

	// injectable clock
	now func() time.Time
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, retries int) AttemptService {
	if retries < 0 {
		retries = conflictRetries
	}
	return &attemptService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		retries:   retries,
		now:       time.Now,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*StartAttemptResponse, error) {
	s.logger.Info("Starting quiz attempt",
		"quiz_id", req.QuizID,
		"student_id", studentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	// A body that names a different student than the token is either a
	// client bug or an impersonation attempt; reject it outright.
	if req.StudentID != "" && req.StudentID != studentID {
		return nil, NewPermissionError(studentID, "attempt", "start", "request student does not match authenticated user")
	}

	// Resolve the quiz and freeze its snapshot. This is the only moment the
	// live catalog is consulted; everything after runs off the stored copy.
	quiz, err := s.repo.QuizCatalog().GetByID(ctx, s.db, req.QuizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	if quiz.Status != models.QuizActive {
		return nil, ErrQuizNotActive
	}

	snapshot, err := s.repo.QuizCatalog().GetSnapshot(ctx, s.db, req.QuizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz snapshot: %w", err)
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	var attempt *models.QuizAttempt
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		// Fast path: an already-committed open attempt fails here without
		// burning an insert. Two racing starts can both pass this count at
		// read-committed isolation, so the partial unique index on open
		// (student, quiz) attempts is the actual guard.
		active, err := txRepo.Attempt().HasActiveAttempt(ctx, nil, studentID, req.QuizID)
		if err != nil {
			return fmt.Errorf("failed to check active attempt: %w", err)
		}
		if active {
			return ErrDuplicateAttempt
		}

		attempt = &models.QuizAttempt{
			StudentID:       studentID,
			QuizID:          req.QuizID,
			Status:          models.AttemptInProgress,
			StartedAt:       s.now().UTC(),
			Snapshot:        snapshotJSON,
			SnapshotVersion: snapshot.Version,
			TotalQuestions:  len(snapshot.Questions),
			Version:         1,
		}
		if err := txRepo.Attempt().Create(ctx, nil, attempt); err != nil {
			if repositories.IsDuplicateKeyError(err) {
				return ErrDuplicateAttempt
			}
			return fmt.Errorf("failed to create attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Quiz attempt started",
		"attempt_id", attempt.ID,
		"quiz_id", req.QuizID,
		"student_id", studentID,
		"snapshot_version", snapshot.Version)

	s.publishAttemptStarted(ctx, attempt, snapshot)

	view := s.buildAttemptView(attempt, snapshot)
	return &StartAttemptResponse{
		Attempt:          view,
		PendingQuestions: view.PendingQuestions,
		TotalQuestions:   view.TotalQuestions,
	}, nil
}

func (s *attemptService) SubmitAnswer(ctx context.Context, attemptID uint, req *SubmitAnswerRequest, studentID string) (*SubmitAnswerResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	var resp *SubmitAnswerResponse
	err := s.withConflictRetry(ctx, "answer", attemptID, func() error {
		attempt, snapshot, err := s.loadAttempt(ctx, attemptID, studentID, true)
		if err != nil {
			return err
		}

		if attempt.IsFinished() {
			return ErrAttemptCompleted
		}

		status := CheckTime(attempt, snapshot, s.now())
		if status.Overdue {
			return ErrTimeExpired
		}

		answer, err := s.gradeRequest(attempt, snapshot, req)
		if err != nil {
			return err
		}

		replacing := attempt.AnswerFor(req.QuestionID) != nil

		err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
			if err := txRepo.Answer().Upsert(ctx, nil, answer); err != nil {
				return fmt.Errorf("failed to upsert answer: %w", err)
			}
			// The version bump is the serialization point for concurrent
			// writers on this attempt.
			return txRepo.Attempt().Update(ctx, nil, attempt)
		})
		if err != nil {
			return err
		}

		answered := len(attempt.Answers)
		if !replacing {
			answered++
		}

		resp = &SubmitAnswerResponse{
			Correct:  answer.Correct,
			Progress: s.buildProgress(attempt, snapshot, answered),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *attemptService) SubmitBulkAnswers(ctx context.Context, attemptID uint, req *BulkAnswerRequest, studentID string) (*BulkAnswerResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	var resp *BulkAnswerResponse
	err := s.withConflictRetry(ctx, "bulk answer", attemptID, func() error {
		attempt, snapshot, err := s.loadAttempt(ctx, attemptID, studentID, true)
		if err != nil {
			return err
		}

		if attempt.IsFinished() {
			return ErrAttemptCompleted
		}

		status := CheckTime(attempt, snapshot, s.now())
		if status.Overdue {
			return ErrTimeExpired
		}

		// All-or-nothing: grade and validate the whole batch before any
		// write. One bad entry rejects the entire call.
		answers := make([]*models.AttemptAnswer, 0, len(req.Answers))
		seen := make(map[uint]int)
		for i := range req.Answers {
			answer, err := s.gradeRequest(attempt, snapshot, &req.Answers[i])
			if err != nil {
				return err
			}
			// Last entry wins when the batch repeats a question, matching
			// the upsert semantics of sequential calls.
			if idx, dup := seen[answer.QuestionID]; dup {
				answers[idx] = answer
				continue
			}
			seen[answer.QuestionID] = len(answers)
			answers = append(answers, answer)
		}

		err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
			if err := txRepo.Answer().UpsertBatch(ctx, nil, answers); err != nil {
				return fmt.Errorf("failed to upsert answers: %w", err)
			}
			return txRepo.Attempt().Update(ctx, nil, attempt)
		})
		if err != nil {
			return err
		}

		answered := len(attempt.Answers)
		for id := range seen {
			if attempt.AnswerFor(id) == nil {
				answered++
			}
		}

		resp = &BulkAnswerResponse{
			Progress: s.buildProgress(attempt, snapshot, answered),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *attemptService) Finish(ctx context.Context, attemptID uint, studentID string) (*FinishAttemptResponse, error) {
	var resp *FinishAttemptResponse
	err := s.withConflictRetry(ctx, "finish", attemptID, func() error {
		attempt, snapshot, err := s.loadAttempt(ctx, attemptID, studentID, true)
		if err != nil {
			return err
		}

		// Idempotent: a repeated finish returns the stored result untouched.
		// "Submit and finish" flows retry on flaky networks.
		if attempt.IsFinished() {
			resp = &FinishAttemptResponse{Result: s.buildResultView(attempt, snapshot)}
			return nil
		}

		// Late finishes are clamped to the time-limit boundary so scores are
		// never stamped past the deadline.
		finishedAt := ClampFinishTime(attempt, snapshot, s.now().UTC())
		scoring := ScoreAttempt(snapshot, toAnswerPointers(attempt.Answers))

		attempt.Status = models.AttemptCompleted
		attempt.FinishedAt = &finishedAt
		attempt.CorrectCount = scoring.CorrectCount
		attempt.TotalQuestions = scoring.TotalQuestions
		attempt.ScorePercent = scoring.ScorePercent
		attempt.PointsObtained = scoring.PointsObtained
		attempt.PointsTotal = scoring.PointsTotal

		if err := s.repo.Attempt().Update(ctx, s.db, attempt); err != nil {
			return err
		}

		s.logger.Info("Quiz attempt finished",
			"attempt_id", attempt.ID,
			"student_id", studentID,
			"correct", scoring.CorrectCount,
			"total", scoring.TotalQuestions,
			"percent", scoring.ScorePercent)

		s.publishAttemptFinished(ctx, attempt, snapshot)

		resp = &FinishAttemptResponse{Result: s.buildResultView(attempt, snapshot)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// ===== READ PROJECTIONS =====

func (s *attemptService) GetInProgress(ctx context.Context, attemptID uint, studentID string) (*AttemptView, error) {
	attempt, snapshot, err := s.loadAttempt(ctx, attemptID, studentID, true)
	if err != nil {
		return nil, err
	}

	return s.buildAttemptView(attempt, snapshot), nil
}

func (s *attemptService) GetResult(ctx context.Context, attemptID uint, studentID string) (*ResultView, error) {
	attempt, snapshot, err := s.loadAttempt(ctx, attemptID, studentID, true)
	if err != nil {
		return nil, err
	}

	// The result view discloses correct alternatives, so it stays locked
	// until the attempt completes.
	if !attempt.IsFinished() {
		return nil, ErrResultNotReady
	}

	return s.buildResultView(attempt, snapshot), nil
}

// ===== INTERNAL =====

// withConflictRetry runs fn, retrying a bounded number of times when the
// optimistic-concurrency update lost a race. Every other error propagates
// immediately, retrying a DuplicateAttempt or TimeExpired would not change
// the outcome.
func (s *attemptService) withConflictRetry(ctx context.Context, op string, attemptID uint, fn func() error) error {
	var err error
	for i := 0; i <= s.retries; i++ {
		err = fn()
		if err == nil || !repositories.IsVersionConflict(err) {
			return err
		}
		s.logger.Warn("Attempt write conflict, retrying",
			"operation", op,
			"attempt_id", attemptID,
			"retry", i+1)
	}
	s.logger.Warn("Attempt write conflict retries exhausted",
		"operation", op,
		"attempt_id", attemptID)
	return ErrConcurrentModification
}

// loadAttempt fetches the attempt, checks ownership and decodes the stored
// snapshot.
func (s *attemptService) loadAttempt(ctx context.Context, attemptID uint, studentID string, withAnswers bool) (*models.QuizAttempt, *models.QuizSnapshot, error) {
	var attempt *models.QuizAttempt
	var err error
	if withAnswers {
		attempt, err = s.repo.Attempt().GetByIDWithAnswers(ctx, s.db, attemptID)
	} else {
		attempt, err = s.repo.Attempt().GetByID(ctx, s.db, attemptID)
	}
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.StudentID != studentID {
		return nil, nil, NewPermissionError(studentID, "attempt", "access", "attempt belongs to another student")
	}

	snapshot, err := decodeSnapshot(attempt)
	if err != nil {
		return nil, nil, err
	}

	return attempt, snapshot, nil
}

// gradeRequest validates an answer against the snapshot and grades it.
func (s *attemptService) gradeRequest(attempt *models.QuizAttempt, snapshot *models.QuizSnapshot, req *SubmitAnswerRequest) (*models.AttemptAnswer, error) {
	question := snapshot.QuestionByID(req.QuestionID)
	if question == nil {
		return nil, ErrInvalidQuestion
	}
	if !question.HasAlternative(req.SelectedAlternativeID) {
		return nil, ErrInvalidAlternative
	}

	return &models.AttemptAnswer{
		AttemptID:             attempt.ID,
		QuestionID:            req.QuestionID,
		SelectedAlternativeID: req.SelectedAlternativeID,
		Correct:               GradeAnswer(question, req.SelectedAlternativeID),
		ResponseTimeSeconds:   req.ResponseTimeSeconds,
	}, nil
}

func (s *attemptService) publishAttemptStarted(ctx context.Context, attempt *models.QuizAttempt, snapshot *models.QuizSnapshot) {
	if s.publisher == nil {
		return
	}

	status := CheckTime(attempt, snapshot, attempt.StartedAt)
	event := events.NewEvent(events.EventAttemptStarted, &events.AttemptStartedEvent{
		AttemptID:        attempt.ID,
		StudentID:        attempt.StudentID,
		QuizID:           attempt.QuizID,
		SnapshotVersion:  attempt.SnapshotVersion,
		TotalQuestions:   len(snapshot.Questions),
		TimeLimitMinutes: snapshot.TimeLimitMinutes,
		StartedAt:        attempt.StartedAt,
		Deadline:         status.Deadline,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish attempt started event",
			"attempt_id", attempt.ID,
			"error", err)
	}
}

func (s *attemptService) publishAttemptFinished(ctx context.Context, attempt *models.QuizAttempt, snapshot *models.QuizSnapshot) {
	if s.publisher == nil {
		return
	}

	event := events.NewEvent(events.EventAttemptFinished, &events.AttemptFinishedEvent{
		AttemptID:      attempt.ID,
		StudentID:      attempt.StudentID,
		QuizID:         attempt.QuizID,
		CorrectCount:   attempt.CorrectCount,
		TotalQuestions: attempt.TotalQuestions,
		ScorePercent:   attempt.ScorePercent,
		PointsObtained: attempt.PointsObtained,
		PointsTotal:    attempt.PointsTotal,
		TimedOut:       s.finishedAtDeadline(attempt, snapshot),
		FinishedAt:     *attempt.FinishedAt,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish attempt finished event",
			"attempt_id", attempt.ID,
			"error", err)
	}
}
