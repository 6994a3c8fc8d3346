package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	logger := telemetry.FromZap(zap.New(core))

	router := gin.New()
	router.Use(RequestID(), Logging(logger), Auth(stubVerifier{claims: identity.Claims{Subject: "user-1"}}))
	router.GET("/test", func(c *gin.Context) {
		c.Set("promptId", "prompt-1")
		c.Set("datasetId", "ds-1")
		c.Set("statusTransition", "generated->executing")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set("X-Request-Id", "req-42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	entries := logs.FilterMessage("request.complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request.complete entry, got %d", len(entries))
	}
	payload := entries[0].ContextMap()

	required := []string{"request_id", "user_id", "prompt_id", "dataset_id", "duration_ms", "status", "status_transition"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["request_id"] != "req-42" {
		t.Fatalf("unexpected request_id: %v", payload["request_id"])
	}
	if payload["user_id"] != "user-1" {
		t.Fatalf("unexpected user_id: %v", payload["user_id"])
	}
	if payload["prompt_id"] != "prompt-1" {
		t.Fatalf("unexpected prompt_id: %v", payload["prompt_id"])
	}
	if payload["status_transition"] != "generated->executing" {
		t.Fatalf("unexpected status_transition: %v", payload["status_transition"])
	}
}
