package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/exameprep/quiz-attempt-service/internal/services"
	"github.com/exameprep/quiz-attempt-service/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExportHandler struct {
	BaseHandler
	exportService services.ExportService
}

func NewExportHandler(exportService services.ExportService, logger utils.Logger) *ExportHandler {
	return &ExportHandler{
		BaseHandler:   NewBaseHandler(logger),
		exportService: exportService,
	}
}

// ExportQuizAttempts handles GET /tentativas/quiz/:quiz_id/export and streams
// an xlsx workbook with every attempt of the quiz.
func (h *ExportHandler) ExportQuizAttempts(c *gin.Context) {
	raw := c.Param("quiz_id")
	quizID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || quizID == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid quiz id",
			Code:    "INVALID_PARAMETER",
			Details: raw,
		})
		return
	}

	requesterID, ok := h.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return
	}

	h.LogRequest(c, "Exporting quiz attempts", "quiz_id", quizID)

	content, filename, err := h.exportService.ExportQuizAttempts(c.Request.Context(), uint(quizID), requesterID)
	if err != nil {
		h.handleExportError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Length", strconv.Itoa(len(content)))
	c.Data(http.StatusOK, xlsxContentType, content)
}

func (h *ExportHandler) handleExportError(c *gin.Context, err error) {
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

	if errors.Is(err, services.ErrQuizNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Quiz not found",
			Code:    services.ErrorCode(err),
		})
		return
	}

	h.logger.Error("Export failed", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Message: "Internal server error",
		Code:    services.ErrorCode(err),
	})
}
