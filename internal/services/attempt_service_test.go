package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/exameprep/quiz-attempt-service/internal/events"
	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
	"github.com/exameprep/quiz-attempt-service/internal/validator"
)

// ===== MOCK REPOSITORY =====

type mockRepository struct {
	attempts map[uint]*models.QuizAttempt
	answers  map[uint][]models.AttemptAnswer
	quizzes  map[uint]*models.Quiz
	users    map[string]*models.User
	nextID   uint

	// forceConflicts makes the next N attempt updates fail with a version
	// conflict, simulating a concurrent writer.
	forceConflicts int

	// staleActiveCount makes HasActiveAttempt report no open attempt even
	// when one exists, the way a racing transaction's uncommitted insert is
	// invisible to the count at read-committed isolation.
	staleActiveCount bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		attempts: make(map[uint]*models.QuizAttempt),
		answers:  make(map[uint][]models.AttemptAnswer),
		quizzes:  make(map[uint]*models.Quiz),
		users:    make(map[string]*models.User),
	}
}

func (m *mockRepository) Attempt() repositories.AttemptRepository         { return &mockAttemptRepo{m} }
func (m *mockRepository) Answer() repositories.AnswerRepository           { return &mockAnswerRepo{m} }
func (m *mockRepository) QuizCatalog() repositories.QuizCatalogRepository { return &mockCatalogRepo{m} }
func (m *mockRepository) User() repositories.UserRepository               { return &mockUserRepo{m} }
func (m *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}
func (m *mockRepository) Ping(ctx context.Context) error { return nil }
func (m *mockRepository) Close() error                   { return nil }

func (m *mockRepository) cloneAttempt(id uint) *models.QuizAttempt {
	stored, ok := m.attempts[id]
	if !ok {
		return nil
	}
	clone := *stored
	clone.Answers = append([]models.AttemptAnswer(nil), m.answers[id]...)
	return &clone
}

type mockAttemptRepo struct{ m *mockRepository }

func (r *mockAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	// Mirrors the partial unique index on open (student, quiz) attempts.
	if attempt.Status == models.AttemptInProgress {
		for _, existing := range r.m.attempts {
			if existing.StudentID == attempt.StudentID && existing.QuizID == attempt.QuizID && existing.Status == models.AttemptInProgress {
				return repositories.ErrDuplicateKey
			}
		}
	}

	r.m.nextID++
	attempt.ID = r.m.nextID
	stored := *attempt
	r.m.attempts[attempt.ID] = &stored
	return nil
}

func (r *mockAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error) {
	if attempt := r.m.cloneAttempt(id); attempt != nil {
		attempt.Answers = nil
		return attempt, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *mockAttemptRepo) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error) {
	if attempt := r.m.cloneAttempt(id); attempt != nil {
		return attempt, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *mockAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	if r.m.forceConflicts > 0 {
		r.m.forceConflicts--
		return repositories.ErrVersionConflict
	}

	stored, ok := r.m.attempts[attempt.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if stored.Version != attempt.Version {
		return repositories.ErrVersionConflict
	}

	clone := *attempt
	clone.Version++
	clone.Answers = nil
	r.m.attempts[attempt.ID] = &clone
	attempt.Version++
	return nil
}

func (r *mockAttemptRepo) GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, quizID uint) (*models.QuizAttempt, error) {
	for id, attempt := range r.m.attempts {
		if attempt.StudentID == studentID && attempt.QuizID == quizID && attempt.Status == models.AttemptInProgress {
			return r.m.cloneAttempt(id), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockAttemptRepo) HasActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, quizID uint) (bool, error) {
	if r.m.staleActiveCount {
		return false, nil
	}
	for _, attempt := range r.m.attempts {
		if attempt.StudentID == studentID && attempt.QuizID == quizID && attempt.Status == models.AttemptInProgress {
			return true, nil
		}
	}
	return false, nil
}

func (r *mockAttemptRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	var out []*models.QuizAttempt
	for id, attempt := range r.m.attempts {
		if filters.StudentID != nil && attempt.StudentID != *filters.StudentID {
			continue
		}
		if filters.QuizID != nil && attempt.QuizID != *filters.QuizID {
			continue
		}
		out = append(out, r.m.cloneAttempt(id))
	}
	return out, int64(len(out)), nil
}

func (r *mockAttemptRepo) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	filters.StudentID = &studentID
	return r.List(ctx, tx, filters)
}

func (r *mockAttemptRepo) GetByQuiz(ctx context.Context, tx *gorm.DB, quizID uint, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	filters.QuizID = &quizID
	return r.List(ctx, tx, filters)
}

func (r *mockAttemptRepo) GetQuizAttemptStats(ctx context.Context, tx *gorm.DB, quizID uint) (*repositories.AttemptStats, error) {
	return &repositories.AttemptStats{}, nil
}

type mockAnswerRepo struct{ m *mockRepository }

func (r *mockAnswerRepo) Upsert(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	stored := r.m.answers[answer.AttemptID]
	for i := range stored {
		if stored[i].QuestionID == answer.QuestionID {
			stored[i] = *answer
			return nil
		}
	}
	r.m.answers[answer.AttemptID] = append(stored, *answer)
	return nil
}

func (r *mockAnswerRepo) UpsertBatch(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error {
	for _, answer := range answers {
		if err := r.Upsert(ctx, tx, answer); err != nil {
			return err
		}
	}
	return nil
}

func (r *mockAnswerRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error) {
	stored := r.m.answers[attemptID]
	out := make([]*models.AttemptAnswer, len(stored))
	for i := range stored {
		answer := stored[i]
		out[i] = &answer
	}
	return out, nil
}

func (r *mockAnswerRepo) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.AttemptAnswer, error) {
	for _, answer := range r.m.answers[attemptID] {
		if answer.QuestionID == questionID {
			a := answer
			return &a, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockAnswerRepo) DeleteByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) error {
	delete(r.m.answers, attemptID)
	return nil
}

type mockCatalogRepo struct{ m *mockRepository }

func (r *mockCatalogRepo) GetByID(ctx context.Context, tx *gorm.DB, quizID uint) (*models.Quiz, error) {
	quiz, ok := r.m.quizzes[quizID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return quiz, nil
}

func (r *mockCatalogRepo) GetSnapshot(ctx context.Context, tx *gorm.DB, quizID uint) (*models.QuizSnapshot, error) {
	quiz, ok := r.m.quizzes[quizID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return quiz.Snapshot()
}

type mockUserRepo struct{ m *mockRepository }

func (r *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.m.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return user, nil
}

// ===== TEST SETUP =====

func newTestQuiz(id uint, questions int, timeLimitMinutes *int) *models.Quiz {
	quiz := &models.Quiz{
		ID:               id,
		Title:            "Matematica 10a classe",
		SubjectID:        1,
		Status:           models.QuizActive,
		Kind:             models.QuizKindExame,
		TimeLimitMinutes: timeLimitMinutes,
		Version:          1,
	}

	alternatives, _ := json.Marshal([]models.Alternative{
		{ID: "a", Text: "Opcao A"},
		{ID: "b", Text: "Opcao B"},
		{ID: "c", Text: "Opcao C"},
		{ID: "d", Text: "Opcao D"},
	})

	for i := 1; i <= questions; i++ {
		quiz.Questions = append(quiz.Questions, models.QuizQuestion{
			ID:                   uint(i),
			QuizID:               id,
			Position:             i,
			Text:                 "Questao",
			Alternatives:         alternatives,
			CorrectAlternativeID: "a",
			Points:               1,
		})
	}

	return quiz
}

// newTestService builds the service with a controllable clock. Mutate *clock
// to move time forward.
func newTestService(repo *mockRepository) (*attemptService, *time.Time, *events.MockEventPublisher) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := events.NewMockEventPublisher(logger)

	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	svc := &attemptService{
		repo:      repo,
		logger:    logger,
		validator: validator.New(),
		publisher: publisher,
		retries:   conflictRetries,
		now:       func() time.Time { return clock },
	}

	return svc, &clock, publisher
}

// ===== TESTS =====

func TestAttemptService_Start(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, publisher := newTestService(repo)
	ctx := context.Background()

	resp, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if resp.TotalQuestions != 5 {
		t.Errorf("TotalQuestions = %d, want 5", resp.TotalQuestions)
	}
	if len(resp.PendingQuestions) != 5 {
		t.Errorf("PendingQuestions = %d entries, want 5", len(resp.PendingQuestions))
	}
	if resp.Attempt.Status != models.AttemptInProgress {
		t.Errorf("Status = %s, want %s", resp.Attempt.Status, models.AttemptInProgress)
	}

	stored := repo.attempts[resp.Attempt.ID]
	if stored == nil {
		t.Fatal("attempt was not persisted")
	}
	if stored.SnapshotVersion != 1 {
		t.Errorf("SnapshotVersion = %d, want 1", stored.SnapshotVersion)
	}
	if len(stored.Snapshot) == 0 {
		t.Error("snapshot must be captured at start")
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 1 || published[0].Type != events.EventAttemptStarted {
		t.Errorf("expected one %s event, got %d events", events.EventAttemptStarted, len(published))
	}
}

func TestAttemptService_Start_DuplicateAttempt(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1"); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}

	_, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	if !errors.Is(err, ErrDuplicateAttempt) {
		t.Errorf("second Start error = %v, want ErrDuplicateAttempt", err)
	}

	// A different student is unaffected.
	if _, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-2"); err != nil {
		t.Errorf("Start for another student returned error: %v", err)
	}
}

func TestAttemptService_Start_RacingDuplicate(t *testing.T) {
	// Two racing starts can both see a zero count of open attempts; the
	// second insert must still fail on the unique index and come back as
	// ErrDuplicateAttempt.
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1"); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}

	repo.staleActiveCount = true
	_, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	if !errors.Is(err, ErrDuplicateAttempt) {
		t.Errorf("racing Start error = %v, want ErrDuplicateAttempt", err)
	}
	if len(repo.attempts) != 1 {
		t.Errorf("stored attempts = %d, want exactly 1 open attempt", len(repo.attempts))
	}
}

func TestAttemptService_Start_BodyStudentMismatch(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	var permErr *PermissionError
	_, err := svc.Start(ctx, &StartAttemptRequest{StudentID: "student-2", QuizID: 1}, "student-1")
	if !errors.As(err, &permErr) {
		t.Errorf("mismatched body student error = %v, want PermissionError", err)
	}
	if len(repo.attempts) != 0 {
		t.Error("rejected start must not persist an attempt")
	}

	// A body naming the authenticated student is fine.
	if _, err := svc.Start(ctx, &StartAttemptRequest{StudentID: "student-1", QuizID: 1}, "student-1"); err != nil {
		t.Errorf("matching body student returned error: %v", err)
	}
}

func TestAttemptService_Start_QuizNotFound(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)

	_, err := svc.Start(context.Background(), &StartAttemptRequest{QuizID: 99}, "student-1")
	if !errors.Is(err, ErrQuizNotFound) {
		t.Errorf("Start error = %v, want ErrQuizNotFound", err)
	}
}

func TestAttemptService_Start_QuizNotActive(t *testing.T) {
	repo := newMockRepository()
	quiz := newTestQuiz(1, 5, nil)
	quiz.Status = models.QuizArchived
	repo.quizzes[1] = quiz
	svc, _, _ := newTestService(repo)

	_, err := svc.Start(context.Background(), &StartAttemptRequest{QuizID: 1}, "student-1")
	if !errors.Is(err, ErrQuizNotActive) {
		t.Errorf("Start error = %v, want ErrQuizNotActive", err)
	}
}

func TestAttemptService_Scenario_AnswerAndFinish(t *testing.T) {
	// start -> answer(Q1, correct) -> answer(Q2, wrong) -> finish
	// on a 5-question untimed quiz.
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, publisher := newTestService(repo)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	attemptID := started.Attempt.ID

	first, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{
		QuestionID:            1,
		SelectedAlternativeID: "a",
	}, "student-1")
	if err != nil {
		t.Fatalf("SubmitAnswer(Q1): %v", err)
	}
	if !first.Correct {
		t.Error("Q1 answer 'a' should be graded correct")
	}
	if first.Progress.AnsweredCount != 1 {
		t.Errorf("AnsweredCount = %d, want 1", first.Progress.AnsweredCount)
	}

	second, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{
		QuestionID:            2,
		SelectedAlternativeID: "c",
	}, "student-1")
	if err != nil {
		t.Fatalf("SubmitAnswer(Q2): %v", err)
	}
	if second.Correct {
		t.Error("Q2 answer 'c' should be graded wrong")
	}

	finished, err := svc.Finish(ctx, attemptID, "student-1")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	result := finished.Result
	if result.CorrectCount != 1 {
		t.Errorf("CorrectCount = %d, want 1", result.CorrectCount)
	}
	if result.TotalQuestions != 5 {
		t.Errorf("TotalQuestions = %d, want 5", result.TotalQuestions)
	}
	if result.ScorePercent != 20 {
		t.Errorf("ScorePercent = %d, want 20", result.ScorePercent)
	}
	if result.PointsObtained != 1 {
		t.Errorf("PointsObtained = %d, want 1", result.PointsObtained)
	}
	if result.PointsTotal != 5 {
		t.Errorf("PointsTotal = %d, want 5", result.PointsTotal)
	}
	if result.Status != models.AttemptCompleted {
		t.Errorf("Status = %s, want %s", result.Status, models.AttemptCompleted)
	}

	var finishedEvents int
	for _, event := range publisher.GetPublishedEvents() {
		if event.Type == events.EventAttemptFinished {
			finishedEvents++
		}
	}
	if finishedEvents != 1 {
		t.Errorf("expected exactly one finished event, got %d", finishedEvents)
	}
}

func TestAttemptService_Answer_UpsertReplaces(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "b"}, "student-1"); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	resp, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1")
	if err != nil {
		t.Fatalf("replacement answer: %v", err)
	}

	if !resp.Correct {
		t.Error("replacement answer should be graded correct")
	}
	if resp.Progress.AnsweredCount != 1 {
		t.Errorf("AnsweredCount = %d, want 1 (replaced, not appended)", resp.Progress.AnsweredCount)
	}

	stored := repo.answers[attemptID]
	if len(stored) != 1 {
		t.Fatalf("stored answers = %d, want exactly 1", len(stored))
	}
	if stored[0].SelectedAlternativeID != "a" || !stored[0].Correct {
		t.Errorf("stored answer = %+v, want latest submission 'a'", stored[0])
	}
}

func TestAttemptService_Answer_InvalidQuestionAndAlternative(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 3, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	_, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 42, SelectedAlternativeID: "a"}, "student-1")
	if !errors.Is(err, ErrInvalidQuestion) {
		t.Errorf("unknown question error = %v, want ErrInvalidQuestion", err)
	}

	_, err = svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "z"}, "student-1")
	if !errors.Is(err, ErrInvalidAlternative) {
		t.Errorf("unknown alternative error = %v, want ErrInvalidAlternative", err)
	}

	if len(repo.answers[attemptID]) != 0 {
		t.Error("rejected answers must not be stored")
	}
}

func TestAttemptService_PostCompletionLock(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	finished, err := svc.Finish(ctx, attemptID, "student-1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	_, err = svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 2, SelectedAlternativeID: "a"}, "student-1")
	if !errors.Is(err, ErrAttemptCompleted) {
		t.Errorf("answer after finish error = %v, want ErrAttemptCompleted", err)
	}

	// Stored scoring untouched by the rejected answer.
	stored := repo.attempts[attemptID]
	if stored.CorrectCount != finished.Result.CorrectCount || stored.ScorePercent != finished.Result.ScorePercent {
		t.Errorf("stored scoring changed after rejected answer: %+v", stored)
	}
	if len(repo.answers[attemptID]) != 1 {
		t.Errorf("stored answers = %d, want 1", len(repo.answers[attemptID]))
	}
}

func TestAttemptService_ExpiryGate(t *testing.T) {
	limit := 10
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, &limit)
	svc, clock, _ := newTestService(repo)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	attemptID := started.Attempt.ID
	startedAt := repo.attempts[attemptID].StartedAt

	// Minute 4: answering works.
	*clock = clock.Add(4 * time.Minute)
	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1"); err != nil {
		t.Fatalf("answer within limit: %v", err)
	}

	// Minute 11: answering is rejected, finishing still works.
	*clock = clock.Add(7 * time.Minute)
	_, err = svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 2, SelectedAlternativeID: "a"}, "student-1")
	if !errors.Is(err, ErrTimeExpired) {
		t.Errorf("answer at minute 11 error = %v, want ErrTimeExpired", err)
	}

	finished, err := svc.Finish(ctx, attemptID, "student-1")
	if err != nil {
		t.Fatalf("finish at minute 11: %v", err)
	}

	wantFinishedAt := startedAt.Add(10 * time.Minute)
	if !finished.Result.FinishedAt.Equal(wantFinishedAt) {
		t.Errorf("FinishedAt = %v, want clamped to boundary %v", finished.Result.FinishedAt, wantFinishedAt)
	}
	if !finished.Result.TimedOut {
		t.Error("result should be flagged as timed out")
	}
}

func TestAttemptService_Finish_Idempotent(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, clock, publisher := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	first, err := svc.Finish(ctx, attemptID, "student-1")
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}

	// A later retry must return the stored result, not re-score or restamp.
	*clock = clock.Add(5 * time.Minute)
	second, err := svc.Finish(ctx, attemptID, "student-1")
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}

	if !second.Result.FinishedAt.Equal(first.Result.FinishedAt) {
		t.Errorf("FinishedAt changed on repeat finish: %v then %v", first.Result.FinishedAt, second.Result.FinishedAt)
	}
	if second.Result.ScorePercent != first.Result.ScorePercent ||
		second.Result.CorrectCount != first.Result.CorrectCount ||
		second.Result.PointsObtained != first.Result.PointsObtained {
		t.Errorf("scoring changed on repeat finish: %+v then %+v", first.Result, second.Result)
	}

	var finishedEvents int
	for _, event := range publisher.GetPublishedEvents() {
		if event.Type == events.EventAttemptFinished {
			finishedEvents++
		}
	}
	if finishedEvents != 1 {
		t.Errorf("repeat finish must not republish: got %d finished events", finishedEvents)
	}
}

func TestAttemptService_Bulk_AllOrNothing(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	// One bad entry rejects the whole batch.
	_, err := svc.SubmitBulkAnswers(ctx, attemptID, &BulkAnswerRequest{Answers: []SubmitAnswerRequest{
		{QuestionID: 1, SelectedAlternativeID: "a"},
		{QuestionID: 42, SelectedAlternativeID: "a"},
	}}, "student-1")
	if !errors.Is(err, ErrInvalidQuestion) {
		t.Fatalf("bulk with invalid entry error = %v, want ErrInvalidQuestion", err)
	}
	if len(repo.answers[attemptID]) != 0 {
		t.Fatalf("failed batch stored %d answers, want 0", len(repo.answers[attemptID]))
	}

	// A clean batch lands atomically.
	resp, err := svc.SubmitBulkAnswers(ctx, attemptID, &BulkAnswerRequest{Answers: []SubmitAnswerRequest{
		{QuestionID: 1, SelectedAlternativeID: "a"},
		{QuestionID: 2, SelectedAlternativeID: "b"},
		{QuestionID: 3, SelectedAlternativeID: "a"},
	}}, "student-1")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if resp.Progress.AnsweredCount != 3 {
		t.Errorf("AnsweredCount = %d, want 3", resp.Progress.AnsweredCount)
	}
	if len(repo.answers[attemptID]) != 3 {
		t.Errorf("stored answers = %d, want 3", len(repo.answers[attemptID]))
	}
}

func TestAttemptService_Bulk_DuplicateQuestionLastWins(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	// The batch repeats question 1; the last entry must win, the same
	// outcome as submitting the two answers sequentially.
	resp, err := svc.SubmitBulkAnswers(ctx, attemptID, &BulkAnswerRequest{Answers: []SubmitAnswerRequest{
		{QuestionID: 1, SelectedAlternativeID: "b"},
		{QuestionID: 1, SelectedAlternativeID: "a"},
	}}, "student-1")
	if err != nil {
		t.Fatalf("bulk with repeated question: %v", err)
	}

	if resp.Progress.AnsweredCount != 1 {
		t.Errorf("AnsweredCount = %d, want 1", resp.Progress.AnsweredCount)
	}
	stored := repo.answers[attemptID]
	if len(stored) != 1 {
		t.Fatalf("stored answers = %d, want exactly 1", len(stored))
	}
	if stored[0].SelectedAlternativeID != "a" || !stored[0].Correct {
		t.Errorf("stored answer = %+v, want the last entry 'a'", stored[0])
	}
}

func TestAttemptService_ConflictRetry(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	// Two conflicts fit within the bounded retry.
	repo.forceConflicts = 2
	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1"); err != nil {
		t.Errorf("answer with 2 transient conflicts should succeed, got %v", err)
	}

	// A persistent conflict exhausts the retry budget.
	repo.forceConflicts = 10
	_, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 2, SelectedAlternativeID: "a"}, "student-1")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("persistent conflict error = %v, want ErrConcurrentModification", err)
	}
}

func TestAttemptService_ConfiguredRetries(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 5, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	// A wider retry budget absorbs more transient conflicts than the default.
	svc := NewAttemptService(repo, nil, logger, validator.New(), nil, 5)

	started, err := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	attemptID := started.Attempt.ID

	repo.forceConflicts = 5
	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1"); err != nil {
		t.Errorf("answer with 5 transient conflicts and 5 retries should succeed, got %v", err)
	}

	// Zero retries surfaces the very first conflict.
	zeroRetry := NewAttemptService(repo, nil, logger, validator.New(), nil, 0)
	repo.forceConflicts = 1
	_, err = zeroRetry.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 2, SelectedAlternativeID: "a"}, "student-1")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("single conflict with zero retries error = %v, want ErrConcurrentModification", err)
	}
}

func TestAttemptService_SnapshotImmuneToCatalogEdits(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 3, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	// The catalog flips the answer key after the attempt started.
	for i := range repo.quizzes[1].Questions {
		repo.quizzes[1].Questions[i].CorrectAlternativeID = "d"
	}
	repo.quizzes[1].Version = 2

	resp, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !resp.Correct {
		t.Error("grading must use the snapshot captured at start, not the edited catalog")
	}
}

func TestAttemptService_GetResult(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 3, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	if _, err := svc.GetResult(ctx, attemptID, "student-1"); !errors.Is(err, ErrResultNotReady) {
		t.Errorf("result before finish error = %v, want ErrResultNotReady", err)
	}

	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-1"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := svc.Finish(ctx, attemptID, "student-1"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	result, err := svc.GetResult(ctx, attemptID, "student-1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}

	// One row per snapshot question, correct alternatives disclosed.
	if len(result.Answers) != 3 {
		t.Fatalf("result rows = %d, want 3", len(result.Answers))
	}
	for _, row := range result.Answers {
		if row.CorrectAlternativeID == "" {
			t.Errorf("question %d: correct alternative missing from result", row.QuestionID)
		}
	}
	if !result.Answers[0].Answered || result.Answers[1].Answered {
		t.Error("answered flags do not match the submitted answers")
	}
}

func TestAttemptService_Ownership(t *testing.T) {
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 3, nil)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	var permErr *PermissionError
	_, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 1, SelectedAlternativeID: "a"}, "student-2")
	if !errors.As(err, &permErr) {
		t.Errorf("foreign student answer error = %v, want PermissionError", err)
	}

	_, err = svc.GetInProgress(ctx, attemptID, "student-2")
	if !errors.As(err, &permErr) {
		t.Errorf("foreign student view error = %v, want PermissionError", err)
	}
}

func TestAttemptService_GetInProgressView(t *testing.T) {
	limit := 30
	repo := newMockRepository()
	repo.quizzes[1] = newTestQuiz(1, 4, &limit)
	svc, clock, _ := newTestService(repo)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{QuizID: 1}, "student-1")
	attemptID := started.Attempt.ID

	*clock = clock.Add(10 * time.Minute)
	if _, err := svc.SubmitAnswer(ctx, attemptID, &SubmitAnswerRequest{QuestionID: 2, SelectedAlternativeID: "b"}, "student-1"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	view, err := svc.GetInProgress(ctx, attemptID, "student-1")
	if err != nil {
		t.Fatalf("GetInProgress: %v", err)
	}

	if view.AnsweredCount != 1 || view.TotalQuestions != 4 {
		t.Errorf("progress = %d/%d, want 1/4", view.AnsweredCount, view.TotalQuestions)
	}
	if len(view.PendingQuestions) != 3 {
		t.Errorf("PendingQuestions = %v, want 3 entries", view.PendingQuestions)
	}
	for _, id := range view.PendingQuestions {
		if id == 2 {
			t.Error("answered question listed as pending")
		}
	}
	if view.RemainingSeconds == nil || *view.RemainingSeconds != 20*60 {
		t.Errorf("RemainingSeconds = %v, want 1200", view.RemainingSeconds)
	}
}
