package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/shared/server/respond"
)

const (
	defaultRateLimitGroup = "DEFAULT"
	// SubmitRateLimitGroup covers prompt submission and execution.
	SubmitRateLimitGroup = "SUBMIT"
	// PollingRateLimitGroup covers status and result reads.
	PollingRateLimitGroup = "POLLING"

	bucketIdleTTL = 10 * time.Minute
	sweepEvery    = 1024
)

// RateLimitRule is a token bucket refilling Rate tokens per second up to Burst.
// A zero rule never limits.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// RateLimitConfig selects a rule per request via GroupFor.
type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      *RateLimiter
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter keeps one bucket per principal and group in memory. Buckets
// idle for longer than bucketIdleTTL are swept so the map stays bounded by
// active principals.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
	calls   int
}

type rateBucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter returns an empty limiter. now defaults to time.Now.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{buckets: make(map[string]*rateBucket), now: now}
}

// RateLimit rejects requests over their group's rule with 429 rate_limited
// and a Retry-After header. Requests are keyed by user, or client IP before
// authentication.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = defaultRateLimitGroup
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}
		principal := UserIDFromContext(c)
		if principal == "" {
			principal = "ip:" + c.ClientIP()
		}

		d := cfg.Limiter.Allow(principal+"|"+group, rule)
		if d.Allowed {
			if rule.Burst > 0 {
				c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			}
			c.Next()
			return
		}

		retryMs := d.RetryAfter.Milliseconds()
		if retryMs <= 0 {
			retryMs = 1000
		}
		c.Header("Retry-After", strconv.FormatInt((retryMs+999)/1000, 10))
		c.Header("X-RateLimit-Remaining", "0")
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests", gin.H{
			"retryAfterMs": retryMs,
			"group":        group,
		})
	}
}

// Allow takes one token from key's bucket if available.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) Decision {
	if l == nil || rule.Rate <= 0 || rule.Burst <= 0 {
		return Decision{Allowed: true}
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &rateBucket{tokens: float64(rule.Burst), last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(rule.Burst), b.tokens+elapsed*rule.Rate)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int(b.tokens)}
	}
	wait := (1 - b.tokens) / rule.Rate
	return Decision{RetryAfter: time.Duration(math.Ceil(wait*1000)) * time.Millisecond}
}

// Len reports how many buckets are held.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *RateLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.last) > bucketIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// PromptGroups classifies prompt routes for RateLimit.
func PromptGroups(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case c.Request.Method == http.MethodPost && (path == "/api/v1/prompts" || path == "/api/v1/prompts/:id/execute"):
		return SubmitRateLimitGroup
	case c.Request.Method == http.MethodGet && strings.HasPrefix(path, "/api/v1/prompts"):
		return PollingRateLimitGroup
	default:
		return defaultRateLimitGroup
	}
}

// PerMinute converts a per-minute allowance into a rule whose burst equals
// the allowance.
func PerMinute(n int) RateLimitRule {
	if n <= 0 {
		return RateLimitRule{}
	}
	return RateLimitRule{Rate: float64(n) / 60.0, Burst: n}
}
