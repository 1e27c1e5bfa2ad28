package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/events"
	"github.com/smart-retail/platform/internal/service"
)

func TestStartAuditWorkerSubscribesHandlers(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	audit := service.NewAuditService(dispatcher, zap.NewNop())

	StartAuditWorker(audit)
	require.NoError(t, dispatcher.Publish(context.Background(),
		events.NewEvent(events.EventLoginFailed, "", "", time.Now(), events.LoginFailedPayload{Identity: "x@example.com"})))
	require.NoError(t, dispatcher.Publish(context.Background(),
		events.NewEvent(events.EventLoggedOut, "u1", "s1", time.Now(), nil)))

	assert.EqualValues(t, 2, audit.Handled())
}

type countingPurger struct{ calls atomic.Int64 }

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 1, nil
}

func TestStartTokenPurgeWorkerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	purger := &countingPurger{}

	StartTokenPurgeWorker(ctx, purger, 5*time.Millisecond, zap.NewNop())
	assert.Eventually(t, func() bool { return purger.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := purger.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, purger.calls.Load())
}
