package respond

import (
	"github.com/gin-gonic/gin"

	"finsight-backend/internal/shared/telemetry"
)

// LoggerKey is the gin context key under which the request logger lives.
const LoggerKey = "logger"

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response and logs it on the request logger.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if status >= 500 {
		Logger(c).Error("http.error", fields)
	} else {
		Logger(c).Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// Logger returns the logger stored by the logging middleware, or nil.
func Logger(c *gin.Context) *telemetry.Logger {
	if c == nil {
		return nil
	}
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*telemetry.Logger); ok {
			return l
		}
	}
	return nil
}
