package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/infra/config"
	"github.com/arklim/crm-session-security/internal/infra/database"
	kafkainfra "github.com/arklim/crm-session-security/internal/infra/kafka"
	"github.com/arklim/crm-session-security/internal/infra/logger"
	redisinfra "github.com/arklim/crm-session-security/internal/infra/redis"
	"github.com/arklim/crm-session-security/internal/infra/security"
	"github.com/arklim/crm-session-security/internal/infra/telemetry"
	"github.com/arklim/crm-session-security/internal/repository/logfile"
	postgresrepo "github.com/arklim/crm-session-security/internal/repository/postgres"
	redisrepo "github.com/arklim/crm-session-security/internal/repository/redis"
	"github.com/arklim/crm-session-security/internal/transport/http/middleware"
	"github.com/arklim/crm-session-security/internal/transport/http/routes"
	"github.com/arklim/crm-session-security/internal/usecase"
)

// Application owns the wired object graph and its lifecycle.
type Application struct {
	cfg         *config.AppConfig
	engine      *gin.Engine
	logger      *zap.Logger
	pool        *pgxpool.Pool
	redis       *redisinfra.Client
	auditWriter *logfile.ChainedWriter
	producer    *kafkainfra.Producer
	tracer      *telemetry.TracerProvider
}

// New builds the full service graph from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient := redisinfra.NewClient(cfg.Redis, log)

	auditWriter, err := logfile.NewChainedWriter(cfg.Audit.Dir, log)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init audit writer: %w", err)
	}
	auditReader := logfile.NewReader(cfg.Audit.Dir, log)

	sessionStore := redisrepo.NewSessionStore(redisClient.Client(), cfg.Redis.OpTimeout)
	loginWindow := redisrepo.NewEventWindowRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "security:events:login_failure",
		TTL:       2 * cfg.Alerts.BruteForceWindow,
	})
	abuseWindow := redisrepo.NewEventWindowRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "security:events:rate_limit",
		TTL:       2 * cfg.Alerts.RateLimitWindow,
	})

	alertRepo := postgresrepo.NewAlertRepository(pool)
	userLookup := postgresrepo.NewUserLookupRepository(pool)

	metrics := telemetry.NewMetrics(nil)

	var producer *kafkainfra.Producer
	var events port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("kafka unavailable, publishing events to log only", zap.Error(err))
			events = kafkainfra.NewStubPublisher(log)
		} else {
			events = kafkainfra.NewEventPublisher(producer, cfg.App, log)
		}
	} else {
		log.Info("kafka brokers not configured, publishing events to log only")
		events = kafkainfra.NewStubPublisher(log)
	}

	alertService := usecase.NewSecurityAlertService(
		cfg.Alerts,
		alertRepo,
		sessionStore,
		loginWindow,
		abuseWindow,
		auditReader,
		events,
		metrics,
		log,
	)

	secrets := security.NewEnvSecretProvider(cfg.JWT.SecretEnvVar)
	codec := security.NewTokenCodec(secrets, cfg.App.Name)

	tokenService := usecase.NewTokenService(
		cfg.JWT,
		codec,
		sessionStore,
		userLookup,
		alertService,
		events,
		metrics,
		log,
	)

	auditService := usecase.NewAuditLogService(auditReader, auditWriter, cfg.Audit, log)

	rateWindow := cfg.RateLimit.WindowDuration
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	limiterStore := redisrepo.NewEventWindowRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "security:ratelimit:http",
		TTL:       2 * rateWindow,
	})
	rateLimiter := middleware.NewRateLimiter(limiterStore, log).
		WithViolationHook(func(ctx context.Context, identifier, ip, path string) {
			if hookErr := alertService.LogRateLimitViolation(ctx, identifier, ip, path); hookErr != nil {
				log.Warn("rate limit violation not tracked", zap.Error(hookErr))
			}
		})

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		AuditWriter: auditWriter,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Tokens: tokenService,
			Audit:  auditService,
			Alerts: alertService,
		},
	})

	return &Application{
		cfg:         cfg,
		engine:      engine,
		logger:      log,
		pool:        pool,
		redis:       redisClient,
		auditWriter: auditWriter,
		producer:    producer,
		tracer:      tracer,
	}, nil
}

// Run serves HTTP until the context is cancelled, then drains and closes
// every owned resource.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.pool.Close()
	defer func() {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}()
	defer func() {
		if err := a.auditWriter.Close(); err != nil {
			a.logger.Warn("audit writer close failed", zap.Error(err))
		}
	}()
	defer func() {
		if a.producer == nil {
			return
		}
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka producer close failed", zap.Error(err))
		}
	}()
	defer func() {
		if a.tracer == nil {
			return
		}
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting session security API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
