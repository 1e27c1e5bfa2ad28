package observability

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

const (
	// RequestIDKey is where the request id middleware stores the id.
	RequestIDKey = "request_id"
	endpointKey  = "metrics_endpoint"
	// UnmatchedEndpoint labels requests no route claimed.
	UnmatchedEndpoint = "unmatched"
)

// RequestID returns the id assigned to the current request.
func RequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(RequestIDKey).(string)
	return id
}

// SetEndpoint overrides the metrics label for the current request. The
// gateway uses the matched route prefix so labels stay bounded.
func SetEndpoint(c *fiber.Ctx, endpoint string) {
	c.Locals(endpointKey, endpoint)
}

// Endpoint returns the label for the current request.
func Endpoint(c *fiber.Ctx) string {
	if endpoint, ok := c.Locals(endpointKey).(string); ok && endpoint != "" {
		return endpoint
	}
	if route := c.Route(); route != nil && route.Path != "" && route.Path != "/" {
		return route.Path
	}
	if c.Path() == "/" {
		return "/"
	}
	return UnmatchedEndpoint
}

// RequestLogger records one log line and one metrics sample per request.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusFromError(err)
		}
		endpoint := Endpoint(c)
		metrics.RecordRequest(endpoint, c.Method(), status, latency)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("endpoint", endpoint),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("request_id", RequestID(c)),
			zap.String("ip", c.IP()),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Warn("request completed", fields...)
		} else {
			logger.Info("request completed", fields...)
		}
		return err
	}
}

// StatusFromError maps handler errors, including fiber's own, to a status.
func StatusFromError(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return apperrors.HTTPStatus(err)
}
