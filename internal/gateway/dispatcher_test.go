package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

func testRoute(upstream string) Route {
	return Route{Name: UpstreamEventIngestion, Prefix: "/api/v1/events", Upstream: upstream, UpstreamPrefix: "/events"}
}

func newTestDispatcher(t *testing.T, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = 8
	}
	d, err := NewDispatcher(cfg, []string{UpstreamEventIngestion}, nil, nil)
	require.NoError(t, err)
	return d
}

// flakyTransport fails the first failures calls before reaching the network.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestNewDispatcherValidatesConfig(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{MaxInFlight: 1}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewDispatcher(DispatcherConfig{Timeout: time.Second}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewDispatcher(DispatcherConfig{Timeout: time.Second, MaxInFlight: 1, RetryPolicy: "exponential"}, nil, nil, nil)
	assert.Error(t, err)
}

func TestForwardRewritesPathAndRelaysResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/events/batch", r.URL.Path)
		assert.Equal(t, "store=12", r.URL.RawQuery)
		assert.Equal(t, `{"n":1}`, string(body))
		assert.Empty(t, r.Header.Get("Keep-Alive"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("X-Internal-Trace", "secret")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":1}`))
	}))
	defer upstream.Close()

	d := newTestDispatcher(t, DispatcherConfig{})
	resp, err := d.Forward(context.Background(), testRoute(upstream.URL), &UpstreamRequest{
		Method:   http.MethodPost,
		Path:     "/batch",
		RawQuery: "store=12",
		Header:   http.Header{"Keep-Alive": {"timeout=5"}, "X-Custom": {"yes"}},
		Body:     []byte(`{"n":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.Equal(t, `{"accepted":1}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `"v1"`, resp.Header.Get("ETag"))
	assert.Empty(t, resp.Header.Get("X-Internal-Trace"))
}

func TestForwardRelaysUpstreamErrorsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer upstream.Close()

	d := newTestDispatcher(t, DispatcherConfig{})
	resp, err := d.Forward(context.Background(), testRoute(upstream.URL), &UpstreamRequest{Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "maintenance", string(resp.Body))
}

func TestForwardTimesOut(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	d := newTestDispatcher(t, DispatcherConfig{Timeout: 50 * time.Millisecond})
	_, err := d.Forward(context.Background(), testRoute(upstream.URL), &UpstreamRequest{Method: http.MethodGet})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, apperrors.HTTPStatus(err))
}

func TestForwardConnectionRefused(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	d := newTestDispatcher(t, DispatcherConfig{})
	_, err := d.Forward(context.Background(), testRoute(addr), &UpstreamRequest{Method: http.MethodGet})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatus(err))
}

func TestForwardBulkheadRejectsWhenFull(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	d := newTestDispatcher(t, DispatcherConfig{MaxInFlight: 1})
	route := testRoute(upstream.URL)

	done := make(chan error, 1)
	go func() {
		_, err := d.Forward(context.Background(), route, &UpstreamRequest{Method: http.MethodGet})
		done <- err
	}()
	<-entered

	_, err := d.Forward(context.Background(), route, &UpstreamRequest{Method: http.MethodGet})
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)

	close(release)
	require.NoError(t, <-done)

	// The slot is free again.
	go func() { <-entered }()
	_, err = d.Forward(context.Background(), route, &UpstreamRequest{Method: http.MethodGet})
	assert.NoError(t, err)
}

func TestForwardRejectsOversizedResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer upstream.Close()

	d := newTestDispatcher(t, DispatcherConfig{MaxResponseBytes: 32})
	_, err := d.Forward(context.Background(), testRoute(upstream.URL), &UpstreamRequest{Method: http.MethodGet})
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestFixedRetryOnlyForIdempotentMethods(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	t.Run("get is retried", func(t *testing.T) {
		transport := &flakyTransport{failures: 1}
		d := newTestDispatcher(t, DispatcherConfig{
			RetryPolicy:   RetryFixed,
			RetryAttempts: 2,
			RetryBackoff:  time.Millisecond,
			Transport:     transport,
		})
		resp, err := d.Forward(context.Background(), testRoute(upstream.URL), &UpstreamRequest{Method: http.MethodGet})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, int32(2), transport.calls.Load())
	})

	t.Run("post is not", func(t *testing.T) {
		transport := &flakyTransport{failures: 1}
		d := newTestDispatcher(t, DispatcherConfig{
			RetryPolicy:   RetryFixed,
			RetryAttempts: 2,
			RetryBackoff:  time.Millisecond,
			Transport:     transport,
		})
		_, err := d.Forward(context.Background(), testRoute(upstream.URL), &UpstreamRequest{Method: http.MethodPost})
		assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
		assert.Equal(t, int32(1), transport.calls.Load())
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		transport := &flakyTransport{failures: 10}
		d := newTestDispatcher(t, DispatcherConfig{
			RetryPolicy:   RetryFixed,
			RetryAttempts: 2,
			RetryBackoff:  time.Millisecond,
			Transport:     transport,
		})
		_, err := d.Forward(context.Background(), testRoute(upstream.URL), &UpstreamRequest{Method: http.MethodGet})
		assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
		assert.Equal(t, int32(3), transport.calls.Load())
	})
}
