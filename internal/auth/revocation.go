package auth

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smart-retail/platform/pkg/shardmap"
)

// RevocationSet records tokens invalidated before their natural expiry.
// Each entry holds a cutoff: a token matching the key is revoked when it was
// issued at or before the cutoff. Entries expire with their TTL, which callers
// bound by the access-token lifetime, so the set prunes itself.
type RevocationSet interface {
	Revoke(ctx context.Context, key string, cutoff time.Time, ttl time.Duration) error
	IsRevoked(ctx context.Context, issuedAt time.Time, keys ...string) (bool, error)
}

// TokenKey addresses a single token by its jti.
func TokenKey(jti string) string { return "jti:" + jti }

// SessionKey addresses every token minted from one login.
func SessionKey(sessionID string) string { return "sid:" + sessionID }

// RedisRevocationSet shares revocations between gateway and user-management.
type RedisRevocationSet struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRevocationSet builds a set storing keys under "revoked:".
func NewRedisRevocationSet(client redis.UniversalClient) *RedisRevocationSet {
	return &RedisRevocationSet{client: client, prefix: "revoked:"}
}

func (r *RedisRevocationSet) Revoke(ctx context.Context, key string, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+key, cutoff.UnixMilli(), ttl).Err()
}

func (r *RedisRevocationSet) IsRevoked(ctx context.Context, issuedAt time.Time, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	values, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return false, err
	}
	issued := issuedAt.UnixMilli()
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		cutoff, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return false, errors.New("corrupt revocation entry")
		}
		if issued <= cutoff {
			return true, nil
		}
	}
	return false, nil
}

type revocation struct {
	cutoff    time.Time
	expiresAt time.Time
}

// MemoryRevocationSet is a single-process RevocationSet.
type MemoryRevocationSet struct {
	entries *shardmap.Map[revocation]
	now     func() time.Time
	writes  atomic.Uint64
}

// NewMemoryRevocationSet creates an empty set; now may be nil.
func NewMemoryRevocationSet(now func() time.Time) *MemoryRevocationSet {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationSet{entries: shardmap.New[revocation](0), now: now}
}

const pruneEveryWrites = 256

func (m *MemoryRevocationSet) Revoke(_ context.Context, key string, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := m.now()
	m.entries.Update(key, func(cur revocation, ok bool) revocation {
		next := revocation{cutoff: cutoff, expiresAt: now.Add(ttl)}
		if ok && now.Before(cur.expiresAt) {
			if cur.cutoff.After(next.cutoff) {
				next.cutoff = cur.cutoff
			}
			if cur.expiresAt.After(next.expiresAt) {
				next.expiresAt = cur.expiresAt
			}
		}
		return next
	})
	if m.writes.Add(1)%pruneEveryWrites == 0 {
		m.entries.Prune(func(r revocation) bool { return !now.Before(r.expiresAt) })
	}
	return nil
}

func (m *MemoryRevocationSet) IsRevoked(_ context.Context, issuedAt time.Time, keys ...string) (bool, error) {
	now := m.now()
	for _, k := range keys {
		r, ok := m.entries.Get(k)
		if !ok || !now.Before(r.expiresAt) {
			continue
		}
		if !issuedAt.After(r.cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// Len reports stored entries, including expired ones not yet pruned.
func (m *MemoryRevocationSet) Len() int {
	return m.entries.Len()
}
