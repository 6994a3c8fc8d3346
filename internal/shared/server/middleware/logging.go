package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/shared/server/respond"
	"finsight-backend/internal/shared/telemetry"
)

// Logging stores a request-scoped logger in context and emits one structured
// line per completed request.
func Logging(logger *telemetry.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLogger := logger.With(map[string]any{"request_id": RequestIDFromContext(c)})
		c.Set(respond.LoggerKey, reqLogger)

		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		userID, _ := c.Get(userIDKey)
		promptID, _ := c.Get("promptId")
		datasetID, _ := c.Get("datasetId")
		statusTransition := c.GetString("statusTransition")

		reqLogger.Info("request.complete", map[string]any{
			"method":            c.Request.Method,
			"path":              c.Request.URL.Path,
			"status":            c.Writer.Status(),
			"status_transition": statusTransition,
			"duration_ms":       float64(latency.Microseconds()) / 1000.0,
			"user_id":           userID,
			"prompt_id":         promptID,
			"dataset_id":        datasetID,
			"client_ip":         c.ClientIP(),
			"user_agent":        c.Request.UserAgent(),
		})
	}
}
