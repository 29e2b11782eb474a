package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/transport/http/handlers"
	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth    *usecase.AuthService
	Credits *usecase.CreditService
	Billing *usecase.BillingService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	RateLimiter    *middleware.RateLimiter
	Services       ServiceSet
	Metrics        *middleware.HTTPMetrics
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider
	Database       DatabaseChecker
	Cache          CacheChecker
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
	cfg := deps.Config
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	if deps.TracerProvider != nil {
		r.Use(middleware.Tracing(middleware.TracingOptions{
			ServiceName:    cfg.Telemetry.ServiceName,
			TracerProvider: deps.TracerProvider,
		}), middleware.AnnotateSpan())
	}
	r.Use(deps.Metrics.Handler())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(cfg.App.AllowedOrigins))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("postgres", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")

	if deps.Services.Auth == nil {
		return r
	}

	requireAuth := middleware.RequireAuth(deps.Services.Auth, deps.Logger)
	requireVerified := middleware.RequireVerifiedEmail(deps.Services.Auth, deps.Logger)

	authHandler := handlers.NewAuthHandler(deps.Services.Auth, handlers.RefreshCookie{
		Name:   cfg.Cookie.RefreshName,
		Domain: cfg.Cookie.Domain,
		Path:   cfg.Cookie.Path,
		Secure: cfg.App.IsProduction(),
		TTL:    cfg.JWT.RefreshTokenTTL,
	}, deps.Logger)
	authHandler.RegisterRoutes(api.Group("/auth"), handlers.AuthRoutes{
		Register: ipRateLimit(deps, "auth_register_ip", cfg.RateLimit.RegisterMaxAttempts),
		Login:    ipRateLimit(deps, "auth_login_ip", cfg.RateLimit.LoginMaxAttempts),
		OTP:      ipRateLimit(deps, "auth_otp_ip", cfg.RateLimit.OTPMaxAttempts),
		Auth:     requireAuth,
	})

	if deps.Services.Credits != nil {
		optionalAuth := middleware.OptionalAuth(deps.Services.Auth, deps.Logger)
		handlers.NewCreditsHandler(deps.Services.Credits).RegisterRoutes(api.Group("/credits"), requireVerified, optionalAuth)

		adminGroup := api.Group("/admin")
		adminGroup.Use(middleware.RequireAdminKey(cfg.Admin.APIKey))
		handlers.NewAdminHandler(deps.Services.Credits).RegisterRoutes(adminGroup)
	}

	if deps.Services.Billing != nil {
		handlers.NewBillingHandler(deps.Services.Billing, deps.Logger).RegisterRoutes(api.Group("/billing"), requireVerified)
	}

	return r
}

func ipRateLimit(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	})}
}
