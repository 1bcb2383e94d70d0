package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
)

// SharedHelpers contains common database operations
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// CountAttempts counts attempts for a quiz
func (h *SharedHelpers) CountAttempts(ctx context.Context, quizID uint) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("quiz_id = ?", quizID).
		Count(&count).Error
	return count, err
}

// CountAttemptsByStatus counts attempts for a quiz in a given status
func (h *SharedHelpers) CountAttemptsByStatus(ctx context.Context, quizID uint, status models.AttemptStatus) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("quiz_id = ? AND status = ?", quizID, status).
		Count(&count).Error
	return count, err
}

// ApplyAttemptFilters applies common filters to attempt queries
func (h *SharedHelpers) ApplyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.QuizID != nil {
		query = query.Where("quiz_id = ?", *filters.QuizID)
	}
	if filters.DateFrom != nil {
		query = query.Where("started_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("started_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with SQL injection protection
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	// Whitelist allowed sort columns
	allowedSortColumns := map[string]bool{
		"id":            true,
		"started_at":    true,
		"finished_at":   true,
		"created_at":    true,
		"updated_at":    true,
		"status":        true,
		"score_percent": true,
	}

	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "started_at"
	}

	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}
