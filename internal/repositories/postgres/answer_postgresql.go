package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/exameprep/quiz-attempt-service/internal/cache"
	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
)

type AnswerPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Upsert inserts the answer or replaces the existing row for the same
// (attempt_id, question_id) pair. Re-answering a question overwrites the
// previous choice in place.
func (r *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"selected_alternative_id",
				"correct",
				"response_time_seconds",
				"updated_at",
			}),
		}).
		Create(answer).Error
}

// UpsertBatch applies a batch of answers atomically. Callers wrap this in a
// transaction when all-or-nothing semantics are required across validation.
func (r *AnswerPostgreSQL) UpsertBatch(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error {
	if len(answers) == 0 {
		return nil
	}

	db := r.getDB(tx)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"selected_alternative_id",
				"correct",
				"response_time_seconds",
				"updated_at",
			}),
		}).
		Create(&answers).Error
}

func (r *AnswerPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error) {
	db := r.getDB(tx)
	var answers []*models.AttemptAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	return answers, nil
}

func (r *AnswerPostgreSQL) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.AttemptAnswer, error) {
	db := r.getDB(tx)
	var answer models.AttemptAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&answer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &answer, nil
}

func (r *AnswerPostgreSQL) DeleteByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Delete(&models.AttemptAnswer{}).Error
}

func (r *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
