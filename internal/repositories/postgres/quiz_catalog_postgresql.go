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

// QuizCatalogPostgreSQL reads quizzes from the shared catalog tables. This
// service never writes to them; authoring belongs to the catalog service.
type QuizCatalogPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewQuizCatalogPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuizCatalogRepository {
	return &QuizCatalogPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (q *QuizCatalogPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Quiz, error) {
	db := q.getDB(tx)
	var quiz models.Quiz
	if err := db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&quiz, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return &quiz, nil
}

// GetSnapshot returns the frozen scoring view of the quiz. The cache key
// carries the catalog version, so an edited quiz never serves a stale
// snapshot from a previous version.
func (q *QuizCatalogPostgreSQL) GetSnapshot(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizSnapshot, error) {
	db := q.getDB(tx)

	var version int
	if err := db.WithContext(ctx).
		Model(&models.Quiz{}).
		Select("version").
		Where("id = ?", id).
		Scan(&version).Error; err != nil {
		return nil, fmt.Errorf("failed to get quiz version: %w", err)
	}
	if version == 0 {
		return nil, repositories.ErrNotFound
	}

	cacheKey := fmt.Sprintf("quiz:%d:v%d", id, version)
	var snapshot models.QuizSnapshot

	err := q.cacheManager.Snapshot.CacheOrExecute(ctx, cacheKey, &snapshot, cache.SnapshotCacheConfig.TTL, func() (interface{}, error) {
		quiz, err := q.GetByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return quiz.Snapshot()
	})
	if err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (q *QuizCatalogPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}
