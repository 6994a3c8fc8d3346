package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func promptLimitedRouter(limiter *RateLimiter, rules map[string]RateLimitRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(userIDKey, u)
		}
		c.Next()
	})
	r.Use(RateLimit(RateLimitConfig{GroupFor: PromptGroups, Limiter: limiter, Rules: rules}))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/api/v1/prompts/:id", ok)
	r.POST("/api/v1/prompts", ok)
	r.POST("/api/v1/prompts/:id/execute", ok)
	return r
}

func send(r *gin.Engine, method, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitGroupsAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
	r := promptLimitedRouter(NewRateLimiter(clock.Now), map[string]RateLimitRule{
		SubmitRateLimitGroup:  {Rate: 1, Burst: 2},
		PollingRateLimitGroup: {Rate: 5, Burst: 10},
	})

	for i := 0; i < 5; i++ {
		if resp := send(r, http.MethodGet, "/api/v1/prompts/p1", "user-1"); resp.Code != http.StatusOK {
			t.Fatalf("poll %d: expected 200, got %d", i+1, resp.Code)
		}
	}
	if resp := send(r, http.MethodPost, "/api/v1/prompts", "user-1"); resp.Code != http.StatusOK || resp.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("first submit: %d remaining=%q", resp.Code, resp.Header().Get("X-RateLimit-Remaining"))
	}
	if resp := send(r, http.MethodPost, "/api/v1/prompts/p1/execute", "user-1"); resp.Code != http.StatusOK {
		t.Fatalf("execute shares the submit bucket and should pass, got %d", resp.Code)
	}
	if resp := send(r, http.MethodPost, "/api/v1/prompts", "user-1"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("third submit expected 429, got %d", resp.Code)
	}
	if resp := send(r, http.MethodPost, "/api/v1/prompts", "user-2"); resp.Code != http.StatusOK {
		t.Fatalf("other user has its own bucket, got %d", resp.Code)
	}

	clock.now = clock.now.Add(time.Second)
	if resp := send(r, http.MethodPost, "/api/v1/prompts", "user-1"); resp.Code != http.StatusOK {
		t.Fatalf("expected refill after 1s, got %d", resp.Code)
	}
}

func TestRateLimit429Envelope(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
	r := promptLimitedRouter(NewRateLimiter(clock.Now), map[string]RateLimitRule{
		SubmitRateLimitGroup: {Rate: 0.5, Burst: 1},
	})

	send(r, http.MethodPost, "/api/v1/prompts", "")
	resp := send(r, http.MethodPost, "/api/v1/prompts", "")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 keyed by client ip, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" || payload.Error.Details["group"] != SubmitRateLimitGroup {
		t.Fatalf("unexpected envelope %+v", payload)
	}
	if ms, _ := payload.Error.Details["retryAfterMs"].(float64); ms != 2000 {
		t.Fatalf("expected retryAfterMs 2000, got %v", payload.Error.Details["retryAfterMs"])
	}
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(clock.Now)
	rule := RateLimitRule{Rate: 1, Burst: 1}
	for i := 0; i < sweepEvery-1; i++ {
		l.Allow(fmt.Sprintf("user-%d|SUBMIT", i), rule)
	}
	if l.Len() != sweepEvery-1 {
		t.Fatalf("expected %d buckets, got %d", sweepEvery-1, l.Len())
	}
	clock.now = clock.now.Add(bucketIdleTTL + time.Second)
	l.Allow("fresh|SUBMIT", rule)
	if l.Len() != 1 {
		t.Fatalf("expected idle buckets swept, got %d", l.Len())
	}
}

func TestPerMinute(t *testing.T) {
	rule := PerMinute(30)
	if rule.Burst != 30 || rule.Rate != 0.5 {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if PerMinute(0) != (RateLimitRule{}) {
		t.Fatalf("expected zero rule for disabled limit")
	}
	if d := (*RateLimiter)(nil).Allow("k", rule); !d.Allowed {
		t.Fatalf("nil limiter must allow")
	}
}
