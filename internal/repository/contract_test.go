package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-retail/platform/internal/domain"
)

// Both backends must satisfy the same behaviour; each backend test feeds its
// Repositories through these suites.

func newCredential(identity string, at time.Time) *domain.Credential {
	return &domain.Credential{
		ID:           uuid.NewString(),
		Identity:     identity,
		PasswordHash: "$argon2id$v=19$m=64,t=1,p=1$c2FsdA$a2V5",
		DisplayName:  "Alice",
		Role:         domain.RoleUser,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func newRefreshToken(userID, sessionID string, at time.Time) *RefreshToken {
	return &RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: at,
		ExpiresAt: at.Add(24 * time.Hour),
	}
}

func runCredentialSuite(t *testing.T, repos Repositories) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("create and get", func(t *testing.T) {
		cred := newCredential("alice-"+uuid.NewString()[:8]+"@example.com", now)
		require.NoError(t, repos.Credentials.Create(ctx, cred))

		byIdentity, err := repos.Credentials.GetByIdentity(ctx, cred.Identity)
		require.NoError(t, err)
		assert.Equal(t, cred.ID, byIdentity.ID)
		assert.Equal(t, cred.PasswordHash, byIdentity.PasswordHash)
		assert.Equal(t, domain.RoleUser, byIdentity.Role)
		assert.True(t, now.Equal(byIdentity.CreatedAt))

		byID, err := repos.Credentials.GetByID(ctx, cred.ID)
		require.NoError(t, err)
		assert.Equal(t, cred.Identity, byID.Identity)
	})

	t.Run("duplicate identity", func(t *testing.T) {
		identity := "dup-" + uuid.NewString()[:8] + "@example.com"
		require.NoError(t, repos.Credentials.Create(ctx, newCredential(identity, now)))

		err := repos.Credentials.Create(ctx, newCredential(identity, now))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("missing rows", func(t *testing.T) {
		_, err := repos.Credentials.GetByIdentity(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repos.Credentials.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		err = repos.Credentials.UpdatePassword(ctx, uuid.NewString(), "x", now)
		assert.ErrorIs(t, err, ErrNotFound)

		err = repos.Credentials.Delete(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update password", func(t *testing.T) {
		cred := newCredential("upd-"+uuid.NewString()[:8]+"@example.com", now)
		require.NoError(t, repos.Credentials.Create(ctx, cred))

		later := now.Add(time.Minute)
		require.NoError(t, repos.Credentials.UpdatePassword(ctx, cred.ID, "new-hash", later))

		got, err := repos.Credentials.GetByID(ctx, cred.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
		assert.True(t, later.Equal(got.UpdatedAt))
	})

	t.Run("delete cascades refresh tokens", func(t *testing.T) {
		cred := newCredential("del-"+uuid.NewString()[:8]+"@example.com", now)
		require.NoError(t, repos.Credentials.Create(ctx, cred))
		token := newRefreshToken(cred.ID, uuid.NewString(), now)
		require.NoError(t, repos.RefreshTokens.Create(ctx, token))

		require.NoError(t, repos.Credentials.Delete(ctx, cred.ID))

		_, err := repos.Credentials.GetByIdentity(ctx, cred.Identity)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repos.RefreshTokens.Get(ctx, token.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func runRefreshTokenSuite(t *testing.T, repos Repositories) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	owner := func(t *testing.T) *domain.Credential {
		cred := newCredential("rt-"+uuid.NewString()[:8]+"@example.com", now)
		require.NoError(t, repos.Credentials.Create(ctx, cred))
		return cred
	}

	t.Run("rotate links successor", func(t *testing.T) {
		cred := owner(t)
		sid := uuid.NewString()
		first := newRefreshToken(cred.ID, sid, now)
		require.NoError(t, repos.RefreshTokens.Create(ctx, first))

		next := newRefreshToken(cred.ID, sid, now)
		require.NoError(t, repos.RefreshTokens.Rotate(ctx, first.ID, next, now))

		used, err := repos.RefreshTokens.Get(ctx, first.ID)
		require.NoError(t, err)
		require.NotNil(t, used.UsedAt)
		require.NotNil(t, used.ReplacedBy)
		assert.Equal(t, next.ID, *used.ReplacedBy)
		assert.False(t, used.Active(now))

		fresh, err := repos.RefreshTokens.Get(ctx, next.ID)
		require.NoError(t, err)
		assert.True(t, fresh.Active(now))

		err = repos.RefreshTokens.Rotate(ctx, first.ID, newRefreshToken(cred.ID, sid, now), now)
		assert.ErrorIs(t, err, ErrNotActive)
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		cred := owner(t)
		sid := uuid.NewString()
		token := newRefreshToken(cred.ID, sid, now)
		require.NoError(t, repos.RefreshTokens.Create(ctx, token))

		const workers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			wins     int
			inactive int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repos.RefreshTokens.Rotate(ctx, token.ID, newRefreshToken(cred.ID, sid, now), now)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case assert.ErrorIs(t, err, ErrNotActive):
					inactive++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, inactive)
	})

	t.Run("revoke session and user", func(t *testing.T) {
		cred := owner(t)
		sidA, sidB := uuid.NewString(), uuid.NewString()
		a := newRefreshToken(cred.ID, sidA, now)
		b := newRefreshToken(cred.ID, sidB, now)
		require.NoError(t, repos.RefreshTokens.Create(ctx, a))
		require.NoError(t, repos.RefreshTokens.Create(ctx, b))

		n, err := repos.RefreshTokens.RevokeSession(ctx, sidA, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		err = repos.RefreshTokens.Rotate(ctx, a.ID, newRefreshToken(cred.ID, sidA, now), now)
		assert.ErrorIs(t, err, ErrNotActive)

		second := newRefreshToken(cred.ID, sidB, now)
		require.NoError(t, repos.RefreshTokens.Create(ctx, second))

		sessions, err := repos.RefreshTokens.RevokeUser(ctx, cred.ID, now)
		require.NoError(t, err)
		assert.Equal(t, []string{sidB}, sessions)

		sessions, err = repos.RefreshTokens.RevokeUser(ctx, cred.ID, now)
		require.NoError(t, err)
		assert.Empty(t, sessions)

		got, err := repos.RefreshTokens.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.RevokedAt)
	})

	t.Run("delete expired", func(t *testing.T) {
		cred := owner(t)
		old := newRefreshToken(cred.ID, uuid.NewString(), now.Add(-48*time.Hour))
		require.NoError(t, repos.RefreshTokens.Create(ctx, old))

		_, err := repos.RefreshTokens.DeleteExpired(ctx, now)
		require.NoError(t, err)

		_, err = repos.RefreshTokens.Get(ctx, old.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
