// Package ratelimit implements fixed-window request counting per client key.
//
// A window opens at a key's first request and lasts Window; at most Limit
// requests are admitted inside it. Both backends count atomically, so
// concurrent callers never admit more than Limit.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set only when the request was rejected.
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config sets the budget shared by every key.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) validate() error {
	if c.Limit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	return nil
}

func decide(limit, count int, now, resetAt time.Time) Decision {
	d := Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(resetAt.Sub(now), 0)
	}
	return d
}

// UserKey and ClientKey build the limiter keys used by the gateway.
func UserKey(userID string) string { return "user:" + userID }

func ClientKey(addr string) string { return "ip:" + addr }
