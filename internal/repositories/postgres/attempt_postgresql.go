package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/exameprep/quiz-attempt-service/internal/cache"
	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Create inserts a new attempt. The partial unique index on
// (student_id, quiz_id) for in-progress rows is the real guard against two
// racing starts; a violation surfaces as ErrDuplicateKey.
func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repositories.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error) {
	db := a.getDB(tx)
	var attempt models.QuizAttempt
	err := a.cacheManager.Attempt.CacheOrExecute(ctx, fmt.Sprintf("id:%d", id), &attempt, cache.AttemptCacheConfig.TTL, func() (interface{}, error) {
		var fresh models.QuizAttempt
		if err := db.WithContext(ctx).First(&fresh, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, repositories.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get attempt: %w", err)
		}
		return &fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error) {
	db := a.getDB(tx)
	var attempt models.QuizAttempt
	err := a.cacheManager.Attempt.CacheOrExecute(ctx, fmt.Sprintf("details:%d", id), &attempt, cache.AttemptCacheConfig.TTL, func() (interface{}, error) {
		var fresh models.QuizAttempt
		if err := db.WithContext(ctx).
			Preload("Answers").
			First(&fresh, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, repositories.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get attempt with answers: %w", err)
		}
		return &fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// Update persists an attempt guarded by its version column. The version in
// the struct must match the stored row; on success the stored version is
// bumped. A stale version returns ErrVersionConflict so callers can reload
// and retry.
func (a *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	db := a.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("id = ? AND version = ?", attempt.ID, attempt.Version).
		Updates(map[string]interface{}{
			"status":          attempt.Status,
			"finished_at":     attempt.FinishedAt,
			"correct_count":   attempt.CorrectCount,
			"total_questions": attempt.TotalQuestions,
			"score_percent":   attempt.ScorePercent,
			"points_obtained": attempt.PointsObtained,
			"points_total":    attempt.PointsTotal,
			"version":         attempt.Version + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// The cached copy carries the stale version that just lost the race;
		// drop it so the caller's retry reloads from the database.
		a.cacheManager.InvalidateAttempt(ctx, attempt.ID)
		return repositories.ErrVersionConflict
	}

	attempt.Version++
	a.cacheManager.InvalidateAttempt(ctx, attempt.ID)
	if attempt.Status == models.AttemptCompleted {
		a.cacheManager.InvalidateQuizStats(ctx, attempt.QuizID)
	}
	return nil
}

func (a *AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, quizID uint) (*models.QuizAttempt, error) {
	db := a.getDB(tx)
	var attempt models.QuizAttempt
	if err := db.WithContext(ctx).
		Where("student_id = ? AND quiz_id = ? AND status = ?", studentID, quizID, models.AttemptInProgress).
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) HasActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, quizID uint) (bool, error) {
	db := a.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("student_id = ? AND quiz_id = ? AND status = ?", studentID, quizID, models.AttemptInProgress).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.QuizAttempt
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.QuizAttempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	filters.StudentID = &studentID
	return a.List(ctx, tx, filters)
}

func (a *AttemptPostgreSQL) GetByQuiz(ctx context.Context, tx *gorm.DB, quizID uint, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	filters.QuizID = &quizID
	return a.List(ctx, tx, filters)
}

func (a *AttemptPostgreSQL) GetQuizAttemptStats(ctx context.Context, tx *gorm.DB, quizID uint) (*repositories.AttemptStats, error) {
	db := a.getDB(tx)

	cacheKey := fmt.Sprintf("quiz:%d:attempts", quizID)
	var stats repositories.AttemptStats

	err := a.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		var result struct {
			Total      int64
			Completed  int64
			AvgPercent *float64
		}
		if err := db.WithContext(ctx).
			Model(&models.QuizAttempt{}).
			Select(`COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status = ?) AS completed,
				AVG(score_percent) FILTER (WHERE status = ?) AS avg_percent`,
				models.AttemptCompleted, models.AttemptCompleted).
			Where("quiz_id = ?", quizID).
			Scan(&result).Error; err != nil {
			return nil, fmt.Errorf("failed to get attempt stats: %w", err)
		}

		computed := &repositories.AttemptStats{
			TotalAttempts:     int(result.Total),
			CompletedAttempts: int(result.Completed),
		}
		if result.Total > 0 {
			computed.CompletionRate = float64(result.Completed) / float64(result.Total)
		}
		if result.AvgPercent != nil {
			computed.AveragePercent = *result.AvgPercent
		}
		return computed, nil
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// getDB returns the transaction handle when one is in flight, otherwise the
// repository's own connection.
func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}
