package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/smart-retail/platform/internal/api/http"
	"github.com/smart-retail/platform/internal/api/http/handlers"
	"github.com/smart-retail/platform/internal/auth"
	"github.com/smart-retail/platform/internal/config"
	"github.com/smart-retail/platform/internal/events"
	"github.com/smart-retail/platform/internal/observability"
	"github.com/smart-retail/platform/internal/persistence"
	"github.com/smart-retail/platform/internal/repository"
	"github.com/smart-retail/platform/internal/service"
	"github.com/smart-retail/platform/internal/worker"
)

func main() {
	cfg, err := config.Load("user-management")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.Pinger{}
	var repos repository.Repositories

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunPostgresMigrations(ctx, cfg.Postgres.DSN, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		repos = repository.NewPostgresRepositories(pool)
		checks["postgres"] = pg
	} else {
		store, err := persistence.NewSQLite(ctx, cfg.SQLite, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite", zap.Error(err))
		}
		defer store.Close()
		if err := persistence.RunSQLiteMigrations(ctx, store.DB, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		repos = repository.NewSQLiteRepositories(store.DB)
		checks["sqlite"] = store
	}

	var revocations auth.RevocationSet = auth.NewMemoryRevocationSet(nil)
	if cfg.Auth.StateBackend == "redis" {
		redis := persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		revocations = auth.NewRedisRevocationSet(redis.Client)
		checks["redis"] = redis
	}

	tokens, err := auth.NewTokenManager(auth.TokenManagerConfig{
		Secret:     cfg.Auth.JWTSecret,
		Algorithm:  cfg.Auth.JWTAlgorithm,
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTokenTTL(),
		RefreshTTL: cfg.Auth.RefreshTokenTTL(),
	})
	if err != nil {
		logger.Fatal("failed to init token manager", zap.Error(err))
	}
	hasher, err := auth.NewPasswordHasher(cfg.Auth.PasswordAlgorithm, cfg.Auth.BcryptCost, auth.Argon2Params{
		Time:      cfg.Auth.Argon2.Time,
		MemoryKiB: cfg.Auth.Argon2.MemoryKiB,
		Threads:   cfg.Auth.Argon2.Threads,
		KeyLength: cfg.Auth.Argon2.KeyLength,
		SaltBytes: cfg.Auth.Argon2.SaltBytes,
	})
	if err != nil {
		logger.Fatal("failed to init password hasher", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	credentials := service.NewCredentialStore(service.CredentialStoreDependencies{
		Credentials: repos.Credentials,
		Hasher:      hasher,
		Policy: auth.PasswordPolicy{
			MinLength:     cfg.Auth.PasswordPolicy.MinLength,
			RequireUpper:  cfg.Auth.PasswordPolicy.RequireUpper,
			RequireLower:  cfg.Auth.PasswordPolicy.RequireLower,
			RequireDigit:  cfg.Auth.PasswordPolicy.RequireDigit,
			RequireSymbol: cfg.Auth.PasswordPolicy.RequireSymbol,
		},
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	authService := service.NewAuthService(service.AuthDependencies{
		Credentials:   credentials,
		RefreshTokens: repos.RefreshTokens,
		Tokens:        tokens,
		Revocations:   revocations,
		Dispatcher:    dispatcher,
		Logger:        logger,
	})
	worker.StartTokenPurgeWorker(ctx, authService, cfg.Auth.PurgeInterval(), logger)

	metrics := observability.NewMetrics("user_management")
	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout(), cfg.CORS.Origins)
	httptransport.RegisterUserRoutes(app, httptransport.UserRouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, "Smart Retail User Management", cfg.App.Version, checks),
		Metrics:        metrics,
		Auth:           handlers.NewAuthHandler(credentials, authService, cfg.Auth.AllowAdminRegistration),
		AuthMiddleware: auth.NewAuthMiddleware(authService),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
