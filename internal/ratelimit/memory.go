package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/smart-retail/platform/pkg/shardmap"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter keeps windows in process memory behind per-shard locks.
type MemoryLimiter struct {
	cfg     Config
	windows *shardmap.Map[window]
	now     func() time.Time
	calls   atomic.Uint64
}

const pruneEveryCalls = 1024

// NewMemoryLimiter builds a limiter; now may be nil.
func NewMemoryLimiter(cfg Config, now func() time.Time) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{cfg: cfg, windows: shardmap.New[window](0), now: now}, nil
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	w := m.windows.Update(key, func(cur window, ok bool) window {
		if !ok || !now.Before(cur.start.Add(m.cfg.Window)) {
			return window{start: now, count: 1}
		}
		cur.count++
		return cur
	})

	if m.calls.Add(1)%pruneEveryCalls == 0 {
		m.windows.Prune(func(w window) bool { return !now.Before(w.start.Add(m.cfg.Window)) })
	}
	return decide(m.cfg.Limit, w.count, now, w.start.Add(m.cfg.Window)), nil
}

// Len reports tracked keys.
func (m *MemoryLimiter) Len() int {
	return m.windows.Len()
}
