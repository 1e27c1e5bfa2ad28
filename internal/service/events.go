package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/events"
)

// publisher emits audit events without letting subscriber failures reach callers.
type publisher struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

func (p publisher) publish(ctx context.Context, typ events.EventType, userID, sessionID string, at time.Time, payload interface{}) {
	if p.dispatcher == nil {
		return
	}
	if err := p.dispatcher.Publish(ctx, events.NewEvent(typ, userID, sessionID, at, payload)); err != nil && p.logger != nil {
		p.logger.Warn("audit event handler failed", zap.String("event_type", string(typ)), zap.Error(err))
	}
}
