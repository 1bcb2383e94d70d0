package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/exameprep/quiz-attempt-service/internal/events"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
	"github.com/exameprep/quiz-attempt-service/internal/validator"
)

// ServiceManager wires and owns all service instances.
type ServiceManager interface {
	Attempt() AttemptService
	Export() ExportService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	LogLevel       slog.Level
	DefaultTimeout time.Duration

	// ConflictRetries bounds automatic retries on attempt write conflicts.
	ConflictRetries int
}

type serviceManager struct {
	// Dependencies
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	config    ServiceManagerConfig

	// Service instances
	attemptService AttemptService
	exportService  ExportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		config:    config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher) ServiceManager {
	config := ServiceManagerConfig{
		LogLevel:        slog.LevelInfo,
		DefaultTimeout:  30 * time.Second,
		ConflictRetries: conflictRetries,
	}

	return NewServiceManager(db, repo, logger, validator, publisher, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	sm.attemptService = NewAttemptService(sm.repo, sm.db, sm.logger, sm.validator, sm.publisher, sm.config.ConflictRetries)
	sm.logger.Info("Attempt service initialized")

	sm.exportService = NewExportService(sm.repo, sm.db, sm.logger)
	sm.logger.Info("Export service initialized")

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.attemptService == nil {
		panic("attempt service not initialized")
	}
	return sm.attemptService
}

func (sm *serviceManager) Export() ExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.exportService == nil {
		panic("export service not initialized")
	}
	return sm.exportService
}

// HealthCheck verifies the manager and its dependencies are usable.
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	return sm.repo.Ping(ctx)
}

// Shutdown releases resources owned by the services.
func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	return nil
}
