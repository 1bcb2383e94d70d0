package services

import (
	"context"
	"time"

	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
)

// ===== REQUEST DTOS =====
// Request and response JSON keeps the Portuguese field names the mobile and
// web clients already speak.

type StartAttemptRequest struct {
	StudentID string `json:"estudante_id" validate:"omitempty,max=255"`
	QuizID    uint   `json:"quiz_id" validate:"required"`
}

type SubmitAnswerRequest struct {
	QuestionID            uint   `json:"questao_id" validate:"required"`
	SelectedAlternativeID string `json:"resposta_escolhida" validate:"required,max=64"`
	ResponseTimeSeconds   *int   `json:"tempo_resposta" validate:"omitempty,min=0,max=86400"`
}

type BulkAnswerRequest struct {
	Answers []SubmitAnswerRequest `json:"respostas" validate:"required,min=1,max=200,dive"`
}

// ===== RESPONSE DTOS =====

// ProgressView is the lightweight progress block returned after every write.
type ProgressView struct {
	AnsweredCount    int  `json:"respondidas"`
	TotalQuestions   int  `json:"total_questoes"`
	RemainingSeconds *int `json:"tempo_restante,omitempty"`
	Overdue          bool `json:"tempo_excedido"`
}

// AnswerView is one recorded answer as shown mid-attempt.
type AnswerView struct {
	QuestionID            uint   `json:"questao_id"`
	SelectedAlternativeID string `json:"resposta_escolhida"`
	Correct               bool   `json:"esta_correta"`
	ResponseTimeSeconds   *int   `json:"tempo_resposta,omitempty"`
}

// AttemptView is the in-progress projection of an attempt. Correct answers
// for unanswered questions are never disclosed here.
type AttemptView struct {
	ID               uint                 `json:"id"`
	StudentID        string               `json:"estudante_id"`
	QuizID           uint                 `json:"quiz_id"`
	Status           models.AttemptStatus `json:"status"`
	StartedAt        time.Time            `json:"iniciado_em"`
	Deadline         *time.Time           `json:"prazo,omitempty"`
	RemainingSeconds *int                 `json:"tempo_restante,omitempty"`
	Overdue          bool                 `json:"tempo_excedido"`
	TotalQuestions   int                  `json:"total_questoes"`
	AnsweredCount    int                  `json:"respondidas"`
	PendingQuestions []uint               `json:"questoes_pendentes"`
	Answers          []AnswerView         `json:"respostas"`
}

// StartAttemptResponse answers POST iniciar.
type StartAttemptResponse struct {
	Attempt          *AttemptView `json:"tentativa"`
	PendingQuestions []uint       `json:"questoes_pendentes"`
	TotalQuestions   int          `json:"total_questoes"`
}

// SubmitAnswerResponse answers POST responder with immediate feedback.
type SubmitAnswerResponse struct {
	Correct  bool         `json:"esta_correta"`
	Progress ProgressView `json:"progresso"`
}

// BulkAnswerResponse answers POST responder-em-massa.
type BulkAnswerResponse struct {
	Progress ProgressView `json:"progresso"`
}

// ResultAnswerView is one graded answer in the final result. The correct
// alternative is only disclosed here, after completion.
type ResultAnswerView struct {
	QuestionID            uint   `json:"questao_id"`
	SelectedAlternativeID string `json:"resposta_escolhida,omitempty"`
	Answered              bool   `json:"respondida"`
	Correct               bool   `json:"esta_correta"`
	CorrectAlternativeID  string `json:"resposta_correta"`
	Points                int    `json:"pontos"`
	ResponseTimeSeconds   *int   `json:"tempo_resposta,omitempty"`
}

// ResultView is the full scoring view of a completed attempt.
type ResultView struct {
	ID             uint                 `json:"id"`
	StudentID      string               `json:"estudante_id"`
	QuizID         uint                 `json:"quiz_id"`
	Status         models.AttemptStatus `json:"status"`
	StartedAt      time.Time            `json:"iniciado_em"`
	FinishedAt     time.Time            `json:"finalizado_em"`
	TimedOut       bool                 `json:"tempo_esgotado"`
	CorrectCount   int                  `json:"respostas_corretas"`
	TotalQuestions int                  `json:"total_questoes"`
	ScorePercent   int                  `json:"percentual_acerto"`
	PointsObtained int                  `json:"pontuacao_obtida"`
	PointsTotal    int                  `json:"total_pontos"`
	Answers        []ResultAnswerView   `json:"respostas"`
}

// FinishAttemptResponse answers POST finalizar.
type FinishAttemptResponse struct {
	Result *ResultView `json:"resultado"`
}

// AttemptSummary is one row of an attempt listing.
type AttemptSummary struct {
	ID             uint                 `json:"id"`
	QuizID         uint                 `json:"quiz_id"`
	Status         models.AttemptStatus `json:"status"`
	StartedAt      time.Time            `json:"iniciado_em"`
	FinishedAt     *time.Time           `json:"finalizado_em,omitempty"`
	ScorePercent   int                  `json:"percentual_acerto"`
	CorrectCount   int                  `json:"respostas_corretas"`
	TotalQuestions int                  `json:"total_questoes"`
}

type AttemptListResponse struct {
	Attempts []AttemptSummary `json:"tentativas"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ===== SERVICE INTERFACES =====

// AttemptService drives the attempt lifecycle: start, answer, finish, and the
// two read projections.
type AttemptService interface {
	Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*StartAttemptResponse, error)
	SubmitAnswer(ctx context.Context, attemptID uint, req *SubmitAnswerRequest, studentID string) (*SubmitAnswerResponse, error)
	SubmitBulkAnswers(ctx context.Context, attemptID uint, req *BulkAnswerRequest, studentID string) (*BulkAnswerResponse, error)
	Finish(ctx context.Context, attemptID uint, studentID string) (*FinishAttemptResponse, error)

	GetInProgress(ctx context.Context, attemptID uint, studentID string) (*AttemptView, error)
	GetResult(ctx context.Context, attemptID uint, studentID string) (*ResultView, error)

	ListByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error)
	GetQuizStats(ctx context.Context, quizID uint) (*repositories.AttemptStats, error)
}

// ExportService renders attempt listings as spreadsheet files for teachers.
type ExportService interface {
	ExportQuizAttempts(ctx context.Context, quizID uint, requesterID string) ([]byte, string, error)
}
