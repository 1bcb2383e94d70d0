package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/exameprep/quiz-attempt-service/internal/models"
	"gorm.io/gorm"
)

// ===== SENTINEL ERRORS =====

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an optimistic-concurrency update
	// lost the race: the attempt's version changed between read and write.
	ErrVersionConflict = errors.New("attempt version conflict")

	// ErrDuplicateKey is returned when an insert violates a unique
	// constraint, such as the one-active-attempt-per-(student, quiz) index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// IsNotFoundError reports whether the error is a not-found condition from
// this package or from gorm.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// IsVersionConflict reports a lost optimistic-concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsDuplicateKeyError reports a unique-constraint violation from this
// package or from gorm's translated driver errors.
func IsDuplicateKeyError(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, gorm.ErrDuplicatedKey)
}

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	StudentID *string               `json:"student_id"`
	QuizID    *uint                 `json:"quiz_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`    // "created_at", "started_at", "percent"
	SortOrder string                `json:"sort_order"` // "asc", "desc"
}

// ===== SHARED STATISTICS STRUCTS =====

type AttemptStats struct {
	TotalAttempts     int     `json:"total_attempts"`
	CompletedAttempts int     `json:"completed_attempts"`
	CompletionRate    float64 `json:"completion_rate"`
	AveragePercent    float64 `json:"average_percent"`
}

// ===== REPOSITORY INTERFACES =====

// AttemptRepository persists quiz attempts. Update applies a per-attempt
// compare-and-swap on the version column and returns ErrVersionConflict when
// a concurrent writer got there first.
type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error)
	GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error

	GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, quizID uint) (*models.QuizAttempt, error)
	HasActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, quizID uint) (bool, error)

	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.QuizAttempt, int64, error)
	GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters AttemptFilters) ([]*models.QuizAttempt, int64, error)
	GetByQuiz(ctx context.Context, tx *gorm.DB, quizID uint, filters AttemptFilters) ([]*models.QuizAttempt, int64, error)

	GetQuizAttemptStats(ctx context.Context, tx *gorm.DB, quizID uint) (*AttemptStats, error)
}

// AnswerRepository persists per-question answers. Upsert keys on
// (attempt_id, question_id) so re-answering replaces, never duplicates.
type AnswerRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error
	UpsertBatch(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error)
	GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.AttemptAnswer, error)
	DeleteByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) error
}

// QuizCatalogRepository reads the assessment catalog. The attempt engine
// consults it exactly once per attempt, at start time, to capture a snapshot.
type QuizCatalogRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, quizID uint) (*models.Quiz, error)
	GetSnapshot(ctx context.Context, tx *gorm.DB, quizID uint) (*models.QuizSnapshot, error)
}

// UserRepository reads user records from the identity provider.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}
