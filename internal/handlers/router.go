package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/exameprep/quiz-attempt-service/internal/config"
	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
	"github.com/exameprep/quiz-attempt-service/internal/services"
	"github.com/exameprep/quiz-attempt-service/internal/utils"
	"github.com/exameprep/quiz-attempt-service/internal/validator"
	"github.com/exameprep/quiz-attempt-service/pkg/monitoring"
)

type HandlerManager struct {
	attemptHandler *AttemptHandler
	exportHandler  *ExportHandler
	authMiddleware *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		exportHandler:  NewExportHandler(serviceManager.Export(), logger),
		authMiddleware: authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		attempts := v1.Group("/tentativas")
		{
			attempts.POST("/iniciar", hm.attemptHandler.StartAttempt)
			attempts.POST("/responder", hm.attemptHandler.SubmitAnswer)
			attempts.POST("/responder-em-massa", hm.attemptHandler.SubmitBulkAnswers)
			attempts.POST("/finalizar", hm.attemptHandler.FinishAttempt)
			attempts.GET("/andamento/:id", hm.attemptHandler.GetInProgress)
			attempts.GET("/resultado/:id", hm.attemptHandler.GetResult)
			attempts.GET("", hm.attemptHandler.ListMyAttempts)

			// Aggregates and exports - Teachers and Admins only
			attempts.GET("/quiz/:quiz_id/stats", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.attemptHandler.GetQuizStats)
			attempts.GET("/quiz/:quiz_id/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.exportHandler.ExportQuizAttempts)
		}
	}

	// Prometheus scrape endpoint, outside the authenticated group
	router.GET("/metrics", monitoring.PrometheusHandler())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "quiz-attempt-service",
		})
	})
}
