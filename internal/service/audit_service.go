package service

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/events"
)

// AuditService writes account and session events to the audit log.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	handled    atomic.Int64
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, typ := range events.AllEventTypes {
		switch typ {
		case events.EventLoginFailed, events.EventRefreshReuseDetected:
			a.dispatcher.Subscribe(typ, a.handleSuspicious)
		default:
			a.dispatcher.Subscribe(typ, a.handleEvent)
		}
	}
}

// Handled reports how many events were written.
func (a *AuditService) Handled() int64 {
	return a.handled.Load()
}

func (a *AuditService) handleEvent(_ context.Context, event events.Event) error {
	a.logger.Info(string(event.Type), a.fields(event)...)
	a.handled.Add(1)
	return nil
}

func (a *AuditService) handleSuspicious(_ context.Context, event events.Event) error {
	a.logger.Warn(string(event.Type), a.fields(event)...)
	a.handled.Add(1)
	return nil
}

func (a *AuditService) fields(event events.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.Time("at", event.Timestamp),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	return fields
}
