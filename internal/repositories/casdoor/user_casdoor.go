package casdoor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"

	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

type UserCasdoor struct {
	client *casdoorsdk.Client
	redis  *redis.Client
	config CasdoorConfig

	// Cache settings
	cachePrefix string
	cacheTTL    time.Duration
}

func NewUserCasdoor(config CasdoorConfig, redisClient *redis.Client) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:      client,
		redis:       redisClient,
		config:      config,
		cachePrefix: "user:",
		cacheTTL:    15 * time.Minute,
	}
}

func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	if cached, err := u.getUserFromCache(ctx, id); err == nil && cached != nil {
		return cached, nil
	}

	casdoorUser, err := u.client.GetUserByUserId(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user from casdoor: %w", err)
	}
	if casdoorUser == nil {
		return nil, repositories.ErrNotFound
	}

	user := u.convertCasdoorUserToModel(casdoorUser)
	if err := u.setUserCache(ctx, id, user); err != nil {
		// Cache failures must not break lookups
		_ = err
	}

	return user, nil
}

// ===== CACHE METHODS =====

func (u *UserCasdoor) getCacheKey(key string) string {
	return fmt.Sprintf("%s%s", u.cachePrefix, key)
}

func (u *UserCasdoor) getUserFromCache(ctx context.Context, key string) (*models.User, error) {
	if u.redis == nil {
		return nil, nil // Cache not available
	}

	data, err := u.redis.Get(ctx, u.getCacheKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not found in cache
		}
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}

	return &user, nil
}

func (u *UserCasdoor) setUserCache(ctx context.Context, key string, user *models.User) error {
	if u.redis == nil {
		return nil
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user for cache: %w", err)
	}

	return u.redis.Set(ctx, u.getCacheKey(key), data, u.cacheTTL).Err()
}

// ===== CONVERSION METHODS =====

func (u *UserCasdoor) convertCasdoorUserToModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	var createdAt time.Time
	if casdoorUser.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, casdoorUser.CreatedTime)
	}

	return &models.User{
		ID:        casdoorUser.Id,
		Name:      casdoorUser.DisplayName,
		Email:     casdoorUser.Email,
		Role:      roleFromTags(casdoorUser),
		CreatedAt: createdAt,
	}
}

// roleFromTags maps Casdoor groups onto the service's role model. Students
// are the default; teacher and admin must be tagged explicitly.
func roleFromTags(casdoorUser *casdoorsdk.User) models.UserRole {
	if casdoorUser.IsAdmin {
		return models.RoleAdmin
	}
	if slices.Contains(casdoorUser.Groups, "teachers") || casdoorUser.Tag == "teacher" {
		return models.RoleTeacher
	}
	return models.RoleStudent
}
