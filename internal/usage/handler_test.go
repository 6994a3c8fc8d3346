package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func usageRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userId", "user-1")
		c.Next()
	})
	h := NewHandler(svc)
	h.RegisterRoutes(r.Group("/api/v1"))
	h.RegisterDevRoutes(r.Group("/api/v1/dev"))
	return r
}

func TestUsageEndpoints(t *testing.T) {
	svc := NewService()
	fixed := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return fixed }
	svc.Plans = func(ctx context.Context, userID string) (string, error) { return "pro", nil }
	if _, err := svc.Consume(context.Background(), "user-1", 3); err != nil {
		t.Fatalf("consume: %v", err)
	}
	r := usageRouter(svc)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Plan      string `json:"plan"`
		Limit     int    `json:"limit"`
		Used      int    `json:"used"`
		Remaining int    `json:"remaining"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Plan != "pro" || body.Limit != LimitFor("pro") || body.Used != 3 || body.Remaining != body.Limit-3 {
		t.Fatalf("unexpected usage %+v", body)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/dev/usage/reset", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	u, err := svc.Get(context.Background(), "user-1")
	if err != nil || u.Used != 0 {
		t.Fatalf("expected reset usage, got %+v %v", u, err)
	}
}

func TestUsagePlanLookupFailure(t *testing.T) {
	svc := NewService()
	svc.Plans = func(ctx context.Context, userID string) (string, error) { return "", context.DeadlineExceeded }
	resp := httptest.NewRecorder()
	usageRouter(svc).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	if resp.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", resp.Code)
	}
}
