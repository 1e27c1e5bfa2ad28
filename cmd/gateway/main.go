package main

import (
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
	"github.com/smart-retail/platform/internal/gateway"
	"github.com/smart-retail/platform/internal/observability"
	"github.com/smart-retail/platform/internal/persistence"
	"github.com/smart-retail/platform/internal/ratelimit"
)

func main() {
	cfg, err := config.Load("api-gateway")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	checks := map[string]handlers.Pinger{}
	var redis *persistence.Redis
	if cfg.Auth.StateBackend == "redis" || cfg.RateLimit.Backend == "redis" {
		redis = persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		checks["redis"] = redis
	}

	var revocations auth.RevocationSet = auth.NewMemoryRevocationSet(nil)
	if cfg.Auth.StateBackend == "redis" {
		revocations = auth.NewRedisRevocationSet(redis.Client)
	}

	limits := ratelimit.Config{Limit: cfg.RateLimit.PerMinute, Window: cfg.RateLimit.Window()}
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Backend == "redis" {
		limiter, err = ratelimit.NewRedisLimiter(redis.Client, limits)
	} else {
		limiter, err = ratelimit.NewMemoryLimiter(limits, nil)
	}
	if err != nil {
		logger.Fatal("failed to init rate limiter", zap.Error(err))
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

	table, err := gateway.NewTable(gateway.DefaultRoutes(cfg.App.APIPrefix, cfg.Gateway))
	if err != nil {
		logger.Fatal("invalid routing table", zap.Error(err))
	}

	metrics := observability.NewMetrics("api_gateway")
	dispatcher, err := gateway.NewDispatcher(gateway.DispatcherConfig{
		Timeout:          cfg.Gateway.UpstreamTimeout(),
		MaxInFlight:      int64(cfg.Gateway.MaxInFlightPerUpstream),
		MaxResponseBytes: cfg.Gateway.MaxResponseBytes,
		RetryPolicy:      cfg.Gateway.RetryPolicy,
		RetryAttempts:    cfg.Gateway.RetryAttempts,
		RetryBackoff:     cfg.Gateway.RetryBackoff(),
	}, table.Upstreams(), metrics, logger)
	if err != nil {
		logger.Fatal("failed to init upstream dispatcher", zap.Error(err))
	}

	for _, r := range table.Routes() {
		logger.Info("route registered",
			zap.String("prefix", r.Prefix),
			zap.String("upstream", r.Name),
			zap.String("target", r.Upstream),
			zap.Bool("public", r.Public),
		)
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout(), cfg.CORS.Origins)
	httptransport.RegisterGatewayRoutes(app, httptransport.GatewayRouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, "Smart Retail API Gateway", cfg.App.Version, checks),
		Metrics: metrics,
		Gateway: gateway.New(gateway.Dependencies{
			Table:      table,
			Dispatcher: dispatcher,
			Verifier:   auth.NewVerifier(tokens, revocations),
			Limiter:    limiter,
			Logger:     logger,
		}),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

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
