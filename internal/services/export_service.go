package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
)

type exportService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

// ExportQuizAttempts renders every attempt of a quiz as an xlsx workbook.
// Teachers and admins only; students never see other students' attempts.
func (s *exportService) ExportQuizAttempts(ctx context.Context, quizID uint, requesterID string) ([]byte, string, error) {
	requester, err := s.repo.User().GetByID(ctx, requesterID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, "", NewPermissionError(requesterID, "quiz attempts", "export", "unknown user")
		}
		return nil, "", fmt.Errorf("failed to resolve requester: %w", err)
	}
	if requester.Role != models.RoleTeacher && requester.Role != models.RoleAdmin {
		return nil, "", NewPermissionError(requesterID, "quiz attempts", "export", "requires teacher or admin role")
	}

	attempts, _, err := s.repo.Attempt().GetByQuiz(ctx, s.db, quizID, repositories.AttemptFilters{
		SortBy:    "started_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to load attempts: %w", err)
	}

	file := excelize.NewFile()
	defer file.Close()

	sheet := "Tentativas"
	file.SetSheetName(file.GetSheetName(0), sheet)

	headers := []string{
		"ID", "Estudante", "Status", "Iniciado em", "Finalizado em",
		"Corretas", "Total", "Percentual", "Pontos", "Total de pontos",
	}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, "", fmt.Errorf("failed to build header cell: %w", err)
		}
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return nil, "", fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, attempt := range attempts {
		values := []interface{}{
			attempt.ID,
			attempt.StudentID,
			string(attempt.Status),
			attempt.StartedAt.Format(time.RFC3339),
			"",
			attempt.CorrectCount,
			attempt.TotalQuestions,
			attempt.ScorePercent,
			attempt.PointsObtained,
			attempt.PointsTotal,
		}
		if attempt.FinishedAt != nil {
			values[4] = attempt.FinishedAt.Format(time.RFC3339)
		}

		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, "", fmt.Errorf("failed to build cell: %w", err)
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return nil, "", fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to render workbook: %w", err)
	}

	filename := fmt.Sprintf("quiz_%d_tentativas_%s.xlsx", quizID, time.Now().Format("20060102_150405"))

	s.logger.Info("Exported quiz attempts",
		"quiz_id", quizID,
		"requester_id", requesterID,
		"rows", len(attempts))

	return buf.Bytes(), filename, nil
}
