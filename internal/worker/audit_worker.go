package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/service"
)

// StartAuditWorker registers audit handlers.
func StartAuditWorker(auditService *service.AuditService) {
	if auditService == nil {
		return
	}
	auditService.RegisterHandlers()
}

// TokenPurger removes expired refresh token records.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StartTokenPurgeWorker runs purger every interval until ctx ends.
func StartTokenPurgeWorker(ctx context.Context, purger TokenPurger, interval time.Duration, logger *zap.Logger) {
	if purger == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := purger.PurgeExpired(ctx)
				if err != nil {
					logger.Warn("purge expired refresh tokens", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("purged expired refresh tokens", zap.Int64("count", n))
				}
			}
		}
	}()
}
