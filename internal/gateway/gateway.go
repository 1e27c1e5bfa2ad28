package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/auth"
	"github.com/smart-retail/platform/internal/observability"
	"github.com/smart-retail/platform/internal/ratelimit"
	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

// Identity headers set for upstreams. Client-supplied values are dropped.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-ID"
)

const routeKey = "gateway_route"

// Gateway is the public entry point. Each request passes through route
// resolution, authentication, rate limiting and forwarding in that order,
// and the first failing stage answers.
type Gateway struct {
	table      *Table
	dispatcher *Dispatcher
	verifier   auth.AccessVerifier
	limiter    ratelimit.Limiter
	logger     *zap.Logger
}

// Dependencies groups what the gateway needs.
type Dependencies struct {
	Table      *Table
	Dispatcher *Dispatcher
	Verifier   auth.AccessVerifier
	Limiter    ratelimit.Limiter
	Logger     *zap.Logger
}

// New builds a gateway.
func New(deps Dependencies) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		table:      deps.Table,
		dispatcher: deps.Dispatcher,
		verifier:   deps.Verifier,
		limiter:    deps.Limiter,
		logger:     logger.Named("gateway"),
	}
}

// Register mounts the pipeline as a catch-all. Call it after every local
// route so health and metrics endpoints keep precedence.
func (g *Gateway) Register(app fiber.Router) {
	app.Use(g.resolve, g.authenticate, g.rateLimit, g.forward)
}

func (g *Gateway) resolve(c *fiber.Ctx) error {
	route, rest, ok := g.table.Resolve(c.Path())
	if !ok {
		return apperrors.NewNoRoute(c.Path())
	}
	observability.SetEndpoint(c, route.Prefix)
	c.Locals(routeKey, resolved{route: route, rest: rest})
	return c.Next()
}

func (g *Gateway) authenticate(c *fiber.Ctx) error {
	if routeFrom(c).route.Public {
		return c.Next()
	}
	token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}
	principal, err := g.verifier.VerifyAccess(c.UserContext(), token)
	if err != nil {
		return err
	}
	auth.SetPrincipal(c, principal)
	return c.Next()
}

func (g *Gateway) rateLimit(c *fiber.Ctx) error {
	key := ratelimit.ClientKey(c.IP())
	if principal, ok := auth.PrincipalFromContext(c); ok {
		key = ratelimit.UserKey(principal.UserID)
	}

	decision, err := g.limiter.Allow(c.UserContext(), key)
	if err != nil {
		// The limiter backend is unreachable; admit rather than block all traffic.
		g.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return c.Next()
	}

	c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		return apperrors.NewRateLimited(decision.RetryAfter)
	}
	return c.Next()
}

func (g *Gateway) forward(c *fiber.Ctx) error {
	r := routeFrom(c)

	header := make(http.Header)
	c.Request().Header.VisitAll(func(k, v []byte) {
		header.Add(string(k), string(v))
	})
	header.Del(HeaderUserID)
	header.Del(HeaderUserRole)
	if id := observability.RequestID(c); id != "" {
		header.Set(HeaderRequestID, id)
	}
	if principal, ok := auth.PrincipalFromContext(c); ok {
		header.Set(HeaderUserID, principal.UserID)
		header.Set(HeaderUserRole, string(principal.Role))
	}
	header.Set("X-Forwarded-For", forwardedFor(header.Get("X-Forwarded-For"), c.IP()))

	resp, err := g.dispatcher.Forward(c.UserContext(), r.route, &UpstreamRequest{
		Method:   c.Method(),
		Path:     r.rest,
		RawQuery: string(c.Request().URI().QueryString()),
		Header:   header,
		Body:     append([]byte(nil), c.Body()...),
	})
	if err != nil {
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) && domainErr.HTTPStatus >= http.StatusInternalServerError {
			g.logger.Warn("upstream call failed",
				zap.String("upstream", r.route.Name),
				zap.String("path", c.Path()),
				zap.String("request_id", observability.RequestID(c)),
				zap.Error(err),
			)
		}
		return err
	}

	for name, values := range resp.Header {
		for i, v := range values {
			if i == 0 {
				c.Set(name, v)
			} else {
				c.Append(name, v)
			}
		}
	}
	return c.Status(resp.Status).Send(resp.Body)
}

type resolved struct {
	route Route
	rest  string
}

func routeFrom(c *fiber.Ctx) resolved {
	r, _ := c.Locals(routeKey).(resolved)
	return r
}

func forwardedFor(prior, client string) string {
	if prior == "" {
		return client
	}
	return prior + ", " + client
}

