package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/exameprep/quiz-attempt-service/internal/models"
	"github.com/exameprep/quiz-attempt-service/internal/repositories"
	"github.com/exameprep/quiz-attempt-service/internal/services"
	"github.com/exameprep/quiz-attempt-service/internal/utils"
	"github.com/exameprep/quiz-attempt-service/internal/validator"
	"github.com/exameprep/quiz-attempt-service/pkg/monitoring"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// answerEnvelope carries the attempt id alongside the answer payload, the
// shape the mobile clients already send.
type answerEnvelope struct {
	AttemptID uint `json:"estudante_quiz_id" binding:"required"`
	services.SubmitAnswerRequest
}

type bulkEnvelope struct {
	AttemptID uint `json:"estudante_quiz_id" binding:"required"`
	services.BulkAnswerRequest
}

type finishEnvelope struct {
	AttemptID uint `json:"estudante_quiz_id" binding:"required"`
}

// StartAttempt handles POST /tentativas/iniciar
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.LogRequest(c, "Starting quiz attempt")

	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Code:    "INVALID_PAYLOAD",
			Details: err.Error(),
		})
		return
	}

	studentID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	resp, err := h.attemptService.Start(c.Request.Context(), &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	monitoring.AttemptsStarted.Inc()
	c.JSON(http.StatusCreated, SuccessResponse{Data: resp})
}

// SubmitAnswer handles POST /tentativas/responder
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	var req answerEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Code:    "INVALID_PAYLOAD",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Submitting answer",
		"attempt_id", req.AttemptID,
		"question_id", req.QuestionID)

	studentID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	resp, err := h.attemptService.SubmitAnswer(c.Request.Context(), req.AttemptID, &req.SubmitAnswerRequest, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: resp})
}

// SubmitBulkAnswers handles POST /tentativas/responder-em-massa
func (h *AttemptHandler) SubmitBulkAnswers(c *gin.Context) {
	var req bulkEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Code:    "INVALID_PAYLOAD",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Submitting bulk answers",
		"attempt_id", req.AttemptID,
		"count", len(req.Answers))

	studentID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	resp, err := h.attemptService.SubmitBulkAnswers(c.Request.Context(), req.AttemptID, &req.BulkAnswerRequest, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: resp})
}

// FinishAttempt handles POST /tentativas/finalizar
func (h *AttemptHandler) FinishAttempt(c *gin.Context) {
	var req finishEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Code:    "INVALID_PAYLOAD",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Finishing quiz attempt", "attempt_id", req.AttemptID)

	studentID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	resp, err := h.attemptService.Finish(c.Request.Context(), req.AttemptID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	monitoring.AttemptsFinished.WithLabelValues(strconv.FormatBool(resp.Result.TimedOut)).Inc()
	c.JSON(http.StatusOK, SuccessResponse{Data: resp})
}

// GetInProgress handles GET /tentativas/andamento/:id
func (h *AttemptHandler) GetInProgress(c *gin.Context) {
	attemptID, err := h.parseIDParam(c, "id")
	if err != nil {
		return
	}

	studentID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	view, err := h.attemptService.GetInProgress(c.Request.Context(), attemptID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: view})
}

// GetResult handles GET /tentativas/resultado/:id
func (h *AttemptHandler) GetResult(c *gin.Context) {
	attemptID, err := h.parseIDParam(c, "id")
	if err != nil {
		return
	}

	studentID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), attemptID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: result})
}

// ListMyAttempts handles GET /tentativas
func (h *AttemptHandler) ListMyAttempts(c *gin.Context) {
	studentID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	filters := repositories.AttemptFilters{
		SortBy:    c.DefaultQuery("sort_by", "started_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		filters.Offset = offset
	}
	if statusParam := c.Query("status"); statusParam != "" {
		status := models.AttemptStatus(statusParam)
		filters.Status = &status
	}
	if quizParam := c.Query("quiz_id"); quizParam != "" {
		if quizID, err := strconv.ParseUint(quizParam, 10, 32); err == nil {
			id := uint(quizID)
			filters.QuizID = &id
		}
	}

	resp, err := h.attemptService.ListByStudent(c.Request.Context(), studentID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: resp})
}

// GetQuizStats handles GET /tentativas/quiz/:quiz_id/stats
func (h *AttemptHandler) GetQuizStats(c *gin.Context) {
	quizID, err := h.parseIDParam(c, "quiz_id")
	if err != nil {
		return
	}

	stats, err := h.attemptService.GetQuizStats(c.Request.Context(), quizID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: stats})
}

func (h *AttemptHandler) parseIDParam(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid id parameter",
			Code:    "INVALID_PARAMETER",
			Details: raw,
		})
		return 0, errInvalidParam
	}
	return uint(id), nil
}

var errInvalidParam = errors.New("invalid parameter")

// handleServiceError translates service errors into stable HTTP statuses and
// machine-readable codes. Stack traces never leave the service.
func (h *AttemptHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Code:    "VALIDATION_FAILED",
			Details: validationErrors,
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Code:    "ACCESS_DENIED",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	code := services.ErrorCode(err)

	switch {
	case errors.Is(err, services.ErrDuplicateAttempt):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "An unfinished attempt already exists for this quiz",
			Code:    code,
		})
	case errors.Is(err, services.ErrQuizNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Quiz not found",
			Code:    code,
		})
	case errors.Is(err, services.ErrQuizNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Quiz is not open for attempts",
			Code:    code,
		})
	case errors.Is(err, services.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Attempt not found",
			Code:    code,
		})
	case errors.Is(err, services.ErrAttemptCompleted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt is already completed",
			Code:    code,
		})
	case errors.Is(err, services.ErrTimeExpired):
		c.JSON(http.StatusGone, ErrorResponse{
			Message: "Attempt time has expired, finish the attempt to get the result",
			Code:    code,
		})
	case errors.Is(err, services.ErrInvalidQuestion):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Question is not part of this quiz",
			Code:    code,
		})
	case errors.Is(err, services.ErrInvalidAlternative):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Alternative is not part of this question",
			Code:    code,
		})
	case errors.Is(err, services.ErrConcurrentModification):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt was modified concurrently, retry the request",
			Code:    code,
		})
	case errors.Is(err, services.ErrResultNotReady):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Attempt is still in progress",
			Code:    code,
		})
	default:
		h.logger.Error("Unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
			Code:    code,
		})
	}
}
