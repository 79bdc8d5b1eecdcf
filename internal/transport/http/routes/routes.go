package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/infra/config"
	"github.com/arklim/crm-session-security/internal/transport/http/handlers"
	"github.com/arklim/crm-session-security/internal/transport/http/middleware"
	"github.com/arklim/crm-session-security/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Tokens *usecase.TokenService
	Audit  *usecase.AuditLogService
	Alerts *usecase.SecurityAlertService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	AuditWriter port.AuditWriter
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(deps.Logger))
	if len(deps.Config.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	}
	if httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{}); err == nil {
		r.Use(httpMetrics.Handler())
	} else if deps.Logger != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	}

	authMiddleware := middleware.RequireAuth(deps.Services.Tokens)
	adminMiddleware := middleware.RequireAdmin()

	healthOptions := make([]handlers.HealthOption, 0, 3)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	if deps.Services.Tokens != nil {
		healthOptions = append(healthOptions, handlers.WithSessionStoreFlag(deps.Services.Tokens.StoreHealthy))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	if deps.AuditWriter != nil {
		api.Use(middleware.AuditTrail(deps.AuditWriter, deps.Logger))
	}
	{
		authGroup := api.Group("/auth")
		authHandler := handlers.NewAuthHandler(
			deps.Services.Tokens,
			deps.Services.Alerts,
			deps.Config.JWT.AccessTokenTTL,
			deps.Logger,
		)
		authHandler.RegisterRoutes(authGroup, buildRefreshMiddlewares(deps)...)
		authGroup.GET("/verify", authMiddleware, authHandler.Verify)

		adminGroup := api.Group("/admin")
		adminGroup.Use(authMiddleware, adminMiddleware)

		auditHandler := handlers.NewAuditHandler(deps.Services.Audit)
		auditHandler.RegisterRoutes(adminGroup.Group("/audit"))

		alertsHandler := handlers.NewAlertsHandler(deps.Services.Alerts)
		alertsHandler.RegisterRoutes(adminGroup.Group("/alerts"))
	}

	return r
}

func buildRefreshMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.RefreshMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_refresh_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
