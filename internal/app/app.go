// Package app wires together all dependencies and runs the account service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/grana-flow/grana-flow-api/internal/account"
	"github.com/grana-flow/grana-flow-api/internal/config"
	handler "github.com/grana-flow/grana-flow-api/internal/handler/http"
	"github.com/grana-flow/grana-flow-api/internal/mailer"
	mockmailer "github.com/grana-flow/grana-flow-api/internal/mailer/mock"
	smtpmailer "github.com/grana-flow/grana-flow-api/internal/mailer/smtp"
	"github.com/grana-flow/grana-flow-api/internal/notify"
	"github.com/grana-flow/grana-flow-api/internal/store"
	storepg "github.com/grana-flow/grana-flow-api/internal/store/postgres"
	"github.com/grana-flow/grana-flow-api/internal/store/tokenstore"
	"github.com/grana-flow/grana-flow-api/internal/token"
	"github.com/grana-flow/grana-flow-api/internal/worker"
	"github.com/grana-flow/grana-flow-api/migrations"
	"github.com/grana-flow/grana-flow-api/pkg/database"
	"github.com/grana-flow/grana-flow-api/pkg/health"
	"github.com/grana-flow/grana-flow-api/pkg/middleware"
	"github.com/grana-flow/grana-flow-api/pkg/queue"
	"github.com/grana-flow/grana-flow-api/pkg/tracing"
)

// App wires together all dependencies and runs the account service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *queue.Producer
	workers        *worker.Workers
	httpServer     *http.Server
	shutdownTracer func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Tracing first so every later component picks up the global provider.
	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SampleRate:     cfg.TracingSample,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// PostgreSQL connection pool and schema migrations.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Redis client for single-use tokens.
	redisCfg := database.DefaultRedisConfig()
	redisCfg.Host = cfg.RedisHost
	redisCfg.Port = cfg.RedisPort
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB

	redisClient, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", redisCfg.Addr()))

	// The notification pipeline is load-bearing: registration and sign-in
	// refuse to proceed when a mail cannot be queued, so unreachable brokers
	// are a startup failure, not a degraded mode.
	if err := queue.PingBrokers(ctx, cfg.KafkaBrokers); err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping kafka brokers: %w", err)
	}
	producer := queue.NewProducer(queue.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	accountRepo := storepg.NewAccountRepository(pool)
	tokenStore := tokenstore.New(redisClient)
	credStore := store.New(accountRepo, tokenStore, store.Config{})

	issuer, err := token.NewIssuer(token.Config{
		Secret:            cfg.JWTSecret,
		Issuer:            cfg.JWTIssuer,
		Audience:          cfg.JWTAudience,
		AccessExpiryMins:  cfg.AccessExpiryMins,
		RefreshExpiryDays: cfg.RefreshExpiryDays,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	notifier := notify.NewProducer(producer, logger)
	accountService := account.NewService(credStore, issuer, notifier, account.Config{
		LoginProvider:    cfg.LoginProvider,
		RefreshTokenName: cfg.RefreshTokenName,
	}, logger)

	var workers *worker.Workers
	if cfg.RunWorkers {
		workers = worker.New(worker.Config{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.ConsumerGroup,
			MaxAttempts: cfg.ConsumerTries,
		}, newMailer(cfg, logger), logger)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return tokenStore.Ping(ctx)
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	authHandler := handler.NewAuthHandler(accountService, cfg.ConfirmEmailURL, cfg.PasswordResetURL, logger)
	router := handler.NewRouter(authHandler, healthHandler, logger, handler.RouterConfig{
		ServiceName: cfg.ServiceName,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		workers:        workers,
		httpServer:     httpServer,
		shutdownTracer: shutdownTracer,
	}, nil
}

func newMailer(cfg *config.Config, logger *slog.Logger) mailer.Mailer {
	if cfg.MailerKind == "smtp" {
		return smtpmailer.New(smtpmailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger)
	}
	return mockmailer.New(logger)
}

// Run starts the HTTP server and notification workers, and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if a.workers != nil {
		go func() {
			a.logger.Info("starting notification workers",
				slog.String("consumer_group", a.cfg.ConsumerGroup),
			)
			a.workers.Start(workerCtx)
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if a.workers != nil {
		if err := a.workers.Close(); err != nil {
			a.logger.Error("workers close error", slog.String("error", err.Error()))
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.pool.Close()

	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
