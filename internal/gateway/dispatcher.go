package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/smart-retail/platform/internal/observability"
	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

// Retry policies.
const (
	RetryNone  = "none"
	RetryFixed = "fixed"
)

var errBulkheadFull = errors.New("too many requests in flight")

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// relayedHeaders are the upstream response headers passed to clients.
var relayedHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Content-Language",
	"Content-Disposition",
	"Cache-Control",
	"ETag",
	"Expires",
	"Last-Modified",
	"Location",
	"Retry-After",
}

// DispatcherConfig tunes forwarding.
type DispatcherConfig struct {
	Timeout          time.Duration
	MaxInFlight      int64
	MaxResponseBytes int64
	RetryPolicy      string
	RetryAttempts    int
	RetryBackoff     time.Duration
	// Transport overrides the HTTP transport; nil uses a tuned default.
	Transport http.RoundTripper
}

// UpstreamRequest is a buffered request ready to forward.
type UpstreamRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// UpstreamResponse is a buffered upstream answer.
type UpstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Dispatcher forwards requests to upstreams with a per-call timeout, a
// per-upstream concurrency cap and an optional retry.
type Dispatcher struct {
	client    *http.Client
	cfg       DispatcherConfig
	bulkheads map[string]*semaphore.Weighted
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewDispatcher creates a bulkhead for each upstream name.
func NewDispatcher(cfg DispatcherConfig, upstreams []string, metrics *observability.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Timeout <= 0 {
		return nil, errors.New("upstream timeout must be positive")
	}
	if cfg.MaxInFlight <= 0 {
		return nil, errors.New("max in-flight must be positive")
	}
	switch cfg.RetryPolicy {
	case "", RetryNone:
		cfg.RetryPolicy = RetryNone
	case RetryFixed:
		if cfg.RetryAttempts < 0 {
			return nil, errors.New("retry attempts must not be negative")
		}
		if cfg.RetryBackoff <= 0 {
			return nil, errors.New("retry backoff must be positive")
		}
	default:
		return nil, fmt.Errorf("unknown retry policy %q", cfg.RetryPolicy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   int(cfg.MaxInFlight),
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
		}
	}

	bulkheads := make(map[string]*semaphore.Weighted, len(upstreams))
	for _, name := range upstreams {
		bulkheads[name] = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	return &Dispatcher{
		client: &http.Client{
			Transport: transport,
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		cfg:       cfg,
		bulkheads: bulkheads,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Forward sends req to route's upstream and buffers the answer. Any
// upstream status is a successful forward; only transport failures error.
func (d *Dispatcher) Forward(ctx context.Context, route Route, req *UpstreamRequest) (*UpstreamResponse, error) {
	sem, ok := d.bulkheads[route.Name]
	if !ok {
		return nil, apperrors.NewInternalError(fmt.Errorf("no bulkhead for upstream %q", route.Name))
	}
	if !sem.TryAcquire(1) {
		return nil, apperrors.NewUpstreamUnavailable(route.Name, errBulkheadFull)
	}
	defer sem.Release(1)

	d.metrics.UpstreamStarted(route.Name)
	defer d.metrics.UpstreamFinished(route.Name)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	target := route.Target(req.Path, req.RawQuery)
	var resp *UpstreamResponse
	attempt := func(ctx context.Context) error {
		r, err := d.roundTrip(ctx, target, req)
		if err != nil {
			if d.retryable(req.Method, err) {
				d.logger.Debug("retrying upstream call", zap.String("upstream", route.Name), zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	}

	var err error
	if d.cfg.RetryPolicy == RetryFixed && d.cfg.RetryAttempts > 0 {
		backoff := retry.WithMaxRetries(uint64(d.cfg.RetryAttempts), retry.NewConstant(d.cfg.RetryBackoff))
		err = retry.Do(ctx, backoff, attempt)
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		return nil, classify(route.Name, err)
	}
	return resp, nil
}

func (d *Dispatcher) roundTrip(ctx context.Context, target string, req *UpstreamRequest) (*UpstreamResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header = forwardHeaders(req.Header)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	limited := io.LimitReader(httpResp.Body, d.maxResponseBytes()+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > d.maxResponseBytes() {
		return nil, errResponseTooLarge
	}

	return &UpstreamResponse{
		Status: httpResp.StatusCode,
		Header: relayHeaders(httpResp.Header),
		Body:   payload,
	}, nil
}

var errResponseTooLarge = errors.New("upstream response exceeds size limit")

func (d *Dispatcher) maxResponseBytes() int64 {
	if d.cfg.MaxResponseBytes <= 0 {
		return 10 << 20
	}
	return d.cfg.MaxResponseBytes
}

// retryable limits retries to idempotent methods and transport failures.
func (d *Dispatcher) retryable(method string, err error) bool {
	if d.cfg.RetryPolicy != RetryFixed || !idempotent(method) {
		return false
	}
	if errors.Is(err, errResponseTooLarge) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func classify(upstream string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewUpstreamTimeout(upstream, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewUpstreamTimeout(upstream, err)
	}
	return apperrors.NewUpstreamUnavailable(upstream, err)
}

func forwardHeaders(in http.Header) http.Header {
	out := in.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range strings.Split(out.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			out.Del(name)
		}
	}
	for _, h := range hopHeaders {
		out.Del(h)
	}
	out.Del("Host")
	out.Del("Content-Length")
	return out
}

func relayHeaders(in http.Header) http.Header {
	out := make(http.Header, len(relayedHeaders))
	for _, h := range relayedHeaders {
		if values := in.Values(h); len(values) > 0 {
			out[http.CanonicalHeaderKey(h)] = append([]string(nil), values...)
		}
	}
	return out
}
