package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"finsight-backend/internal/shared/telemetry"
)

func TestErrorWritesEnvelopeAndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := telemetry.FromZap(zap.New(core))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(LoggerKey, logger)
		c.Set("requestId", "req-1")
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		Error(c, http.StatusConflict, "invalid_state", "prompt is not in generated state", gin.H{"status": "created"})
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "invalid_state" {
		t.Fatalf("unexpected code %q", body.Error.Code)
	}
	entries := logs.FilterMessage("http.error").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["request_id"] != "req-1" {
		t.Fatalf("missing request_id in log: %v", entries[0].ContextMap())
	}
}

func TestErrorWithoutLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		Error(c, http.StatusInternalServerError, "internal_error", "boom", nil)
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/x", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
