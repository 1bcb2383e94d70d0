package services

import (
	"errors"
	"fmt"

	"github.com/exameprep/quiz-attempt-service/internal/validator"
)

// Attempt lifecycle errors. All of these are caller-recoverable conditions;
// the handler layer maps each one onto a stable HTTP status and error code.
var (
	// ErrDuplicateAttempt: the student already has an unfinished attempt for
	// this quiz. Exactly one open attempt per (student, quiz) is permitted.
	ErrDuplicateAttempt = errors.New("an unfinished attempt already exists for this quiz")

	// ErrQuizNotFound: the quiz snapshot could not be resolved from the
	// catalog, or the quiz is not open for attempts.
	ErrQuizNotFound = errors.New("quiz not found")

	// ErrQuizNotActive: the quiz exists but is not accepting attempts.
	ErrQuizNotActive = errors.New("quiz is not active")

	// ErrAttemptNotFound: no attempt with the given id.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrAttemptCompleted: the attempt already reached its terminal state;
	// answers are locked.
	ErrAttemptCompleted = errors.New("attempt is already completed")

	// ErrTimeExpired: the attempt's time limit has elapsed. The caller
	// should finish the attempt instead of answering.
	ErrTimeExpired = errors.New("attempt time limit has expired")

	// ErrInvalidQuestion: the question id does not belong to the attempt's
	// quiz snapshot.
	ErrInvalidQuestion = errors.New("question is not part of this quiz")

	// ErrInvalidAlternative: the selected alternative does not belong to the
	// question.
	ErrInvalidAlternative = errors.New("alternative is not part of this question")

	// ErrConcurrentModification: two writers raced on the same attempt and
	// the bounded automatic retry was exhausted. Safe for the caller to
	// retry.
	ErrConcurrentModification = errors.New("attempt was modified concurrently")

	// ErrResultNotReady: result view requested while the attempt is still in
	// progress.
	ErrResultNotReady = errors.New("attempt is still in progress")
)

// ValidationErrors is surfaced when a request DTO fails validation.
type ValidationErrors = validator.ValidationErrors

// PermissionError is returned when a user acts on a resource they do not own.
type PermissionError struct {
	UserID   string
	Resource string
	Action   string
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s: %s", e.UserID, e.Action, e.Resource, e.Reason)
}

func NewPermissionError(userID, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:   userID,
		Resource: resource,
		Action:   action,
		Reason:   reason,
	}
}

// ErrorCode returns the stable machine-readable code for a service error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateAttempt):
		return "DUPLICATE_ATTEMPT"
	case errors.Is(err, ErrQuizNotFound):
		return "QUIZ_NOT_FOUND"
	case errors.Is(err, ErrQuizNotActive):
		return "QUIZ_NOT_ACTIVE"
	case errors.Is(err, ErrAttemptNotFound):
		return "ATTEMPT_NOT_FOUND"
	case errors.Is(err, ErrAttemptCompleted):
		return "ATTEMPT_COMPLETED"
	case errors.Is(err, ErrTimeExpired):
		return "TIME_EXPIRED"
	case errors.Is(err, ErrInvalidQuestion):
		return "INVALID_QUESTION"
	case errors.Is(err, ErrInvalidAlternative):
		return "INVALID_ALTERNATIVE"
	case errors.Is(err, ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, ErrResultNotReady):
		return "RESULT_NOT_READY"
	default:
		return "INTERNAL_ERROR"
	}
}
