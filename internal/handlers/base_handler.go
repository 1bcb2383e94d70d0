package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/exameprep/quiz-attempt-service/internal/utils"
)

// ErrorResponse is the error envelope every handler returns. Code is the
// stable machine-readable error kind clients branch on.
type ErrorResponse struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps successful payloads.
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

// BaseHandler carries the shared handler plumbing.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs a handler entry with the request id attached.
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	fields := append([]any{"path", c.FullPath(), "method", c.Request.Method}, args...)
	if requestID := c.GetString("request_id"); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	h.logger.Info(msg, fields...)
}

// CurrentUserID returns the authenticated user id set by the auth middleware.
func (h *BaseHandler) CurrentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}
