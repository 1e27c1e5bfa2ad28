package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/smart-retail/platform/internal/api/http/handlers"
	"github.com/smart-retail/platform/internal/auth"
	"github.com/smart-retail/platform/internal/gateway"
	"github.com/smart-retail/platform/internal/observability"
)

// GatewayRouteConfig bundles dependencies for the public gateway.
type GatewayRouteConfig struct {
	Health  *handlers.HealthHandler
	Metrics *observability.Metrics
	Gateway *gateway.Gateway
}

// RegisterGatewayRoutes wires local endpoints first, then the catch-all
// forwarding pipeline.
func RegisterGatewayRoutes(app *fiber.App, cfg GatewayRouteConfig) {
	registerOperational(app, cfg.Health, cfg.Metrics)
	cfg.Gateway.Register(app)
}

// UserRouteConfig bundles dependencies for the user-management service.
type UserRouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *observability.Metrics
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterUserRoutes wires HTTP routes.
func RegisterUserRoutes(app *fiber.App, cfg UserRouteConfig) {
	registerOperational(app, cfg.Health, cfg.Metrics)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, cfg.Auth.Me)

	users := app.Group("/users", cfg.AuthMiddleware.Handle, auth.RequireRole())
	users.Get("/me", cfg.Auth.Me)
	users.Delete("/me", cfg.Auth.DeleteAccount)
	users.Put("/me/password", cfg.Auth.ChangePassword)
}

func registerOperational(app *fiber.App, health *handlers.HealthHandler, metrics *observability.Metrics) {
	app.Get("/", health.Root)
	app.Get("/health", health.Health)
	app.Get("/health/live", health.Live)
	app.Get("/health/ready", health.Ready)
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}
}
