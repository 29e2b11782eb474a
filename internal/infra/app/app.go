package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/infra/database"
	"github.com/arklim/genstudio-auth/internal/infra/google"
	kafkainfra "github.com/arklim/genstudio-auth/internal/infra/kafka"
	"github.com/arklim/genstudio-auth/internal/infra/logger"
	"github.com/arklim/genstudio-auth/internal/infra/mail"
	"github.com/arklim/genstudio-auth/internal/infra/payments"
	redisinfra "github.com/arklim/genstudio-auth/internal/infra/redis"
	"github.com/arklim/genstudio-auth/internal/infra/security"
	"github.com/arklim/genstudio-auth/internal/infra/telemetry"
	postgresrepo "github.com/arklim/genstudio-auth/internal/repository/postgres"
	redisrepo "github.com/arklim/genstudio-auth/internal/repository/redis"
	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	"github.com/arklim/genstudio-auth/internal/transport/http/routes"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// Version is stamped into trace resources and event envelopes.
var Version = "dev"

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, Version, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	a := &Application{
		cfg:    cfg,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		tracer: tracer,
	}
	if err := a.wire(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	hasher, err := security.NewPasswordHasher(security.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return fmt.Errorf("configure argon2: %w", err)
	}

	tokens, err := security.NewTokenManager(security.TokenManagerConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTokenTTL,
		RefreshTTL:    cfg.JWT.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("init token manager: %w", err)
	}

	repos := postgresrepo.NewRepositories(a.pool)

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			a.producer = producer
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	var mailer port.Mailer
	if cfg.SMTP.Enabled() {
		mailer = mail.NewSMTPMailer(cfg.SMTP, log)
	} else {
		log.Warn("smtp not configured, verification codes are only logged")
		mailer = mail.NewLogMailer(log, !cfg.App.IsProduction())
	}

	authOpts := []usecase.AuthServiceOption{
		usecase.WithMailer(mailer),
		usecase.WithEventPublisher(eventPublisher),
	}
	if cfg.Google.ClientID != "" {
		verifier, err := google.NewIdentityVerifier(ctx, cfg.Google.ClientID)
		if err != nil {
			return fmt.Errorf("init google verifier: %w", err)
		}
		authOpts = append(authOpts, usecase.WithIdentityVerifier(verifier))
	} else {
		log.Info("google client id not configured, google sign-in disabled")
	}

	otpStore := redisrepo.NewOTPRepository(a.redis.Client(), cfg.Redis.OTPPrefix)
	otpService := usecase.NewOTPService(otpStore, cfg.OTP)
	authService := usecase.NewAuthService(repos.Users, otpService, tokens, hasher, log, authOpts...)

	creditMetrics, err := telemetry.NewCreditMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init credit metrics: %w", err)
	}
	creditService, err := usecase.NewCreditService(repos.Credits, repos.Users, cfg.Credits, log,
		usecase.WithCreditEvents(eventPublisher),
		usecase.WithCreditObserver(creditMetrics),
	)
	if err != nil {
		return fmt.Errorf("init credit service: %w", err)
	}

	var gateway port.PaymentGateway
	if cfg.Stripe.SecretKey != "" {
		stripeGateway, err := payments.NewStripeGateway(cfg.Stripe, nil)
		if err != nil {
			return fmt.Errorf("init stripe gateway: %w", err)
		}
		gateway = stripeGateway
	} else {
		log.Info("stripe not configured, checkout and webhooks disabled")
	}
	billingService := usecase.NewBillingService(gateway, creditService, log)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(a.redis.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool); err != nil {
		return fmt.Errorf("init postgres pool metrics: %w", err)
	}
	if err := a.redis.RegisterPoolMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("init redis pool metrics: %w", err)
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	a.engine = routes.Register(routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		RateLimiter:    middleware.NewRateLimiter(rateLimitStore, log),
		Metrics:        httpMetrics,
		Gatherer:       prometheus.DefaultGatherer,
		TracerProvider: a.tracer.Provider(),
		Database:       a.pool,
		Cache:          a.redis,
		Services: routes.ServiceSet{
			Auth:    authService,
			Credits: creditService,
			Billing: billingService,
		},
	})
	return nil
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("auth API stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to flush traces", zap.Error(err))
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
