package server

import (
	"github.com/gin-gonic/gin"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/prompts"
	"finsight-backend/internal/services/health"
	"finsight-backend/internal/shared/config"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/server/middleware"
	"finsight-backend/internal/shared/telemetry"
	"finsight-backend/internal/teams"
	"finsight-backend/internal/usage"
	"finsight-backend/internal/users"
)

const pollingPerMinute = 240

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Config   config.Config
	Logger   *telemetry.Logger
	Metrics  *metrics.Registry
	Verifier identity.Verifier
	Health   *health.Service
	// Blobs serves signed blob downloads; nil when the backend presigns.
	Blobs gin.HandlerFunc

	PromptHandler  *prompts.Handler
	DatasetHandler *datasets.Handler
	UserHandler    *users.Handler
	TeamHandler    *teams.Handler
	UsageHandler   *usage.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !config.IsDevLike(deps.Config.Env) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	rules := map[string]middleware.RateLimitRule{
		middleware.PollingRateLimitGroup: middleware.PerMinute(pollingPerMinute),
	}
	if n := deps.Config.RateLimitSubmitPerMin; n > 0 {
		rules[middleware.SubmitRateLimitGroup] = middleware.PerMinute(n)
	}
	r.Use(
		middleware.RequestID(),
		middleware.Logging(deps.Logger),
		middleware.Recovery(deps.Logger),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    rules,
			GroupFor: middleware.PromptGroups,
			Limiter:  middleware.NewRateLimiter(nil),
		}),
	)

	if deps.Health == nil {
		deps.Health = health.NewService()
	}
	r.GET("/health", deps.Health.Handler())
	r.GET("/metrics", deps.Metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", deps.Health.Handler())
	if deps.Blobs != nil {
		api.GET("/blobs/*path", deps.Blobs)
	}
	if deps.UserHandler != nil {
		deps.UserHandler.RegisterRoutes(api)
	}
	if deps.TeamHandler != nil {
		deps.TeamHandler.RegisterRoutes(api)
	}
	if deps.DatasetHandler != nil {
		deps.DatasetHandler.RegisterRoutes(api)
	}
	if deps.PromptHandler != nil {
		deps.PromptHandler.RegisterRoutes(api)
	}
	if deps.UsageHandler != nil {
		deps.UsageHandler.RegisterRoutes(api)
		if config.IsDevLike(deps.Config.Env) {
			deps.UsageHandler.RegisterDevRoutes(api.Group("/dev"))
		}
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
