package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/auth"
	"github.com/smart-retail/platform/internal/config"
	"github.com/smart-retail/platform/internal/events"
	"github.com/smart-retail/platform/internal/persistence"
	"github.com/smart-retail/platform/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type eventRecorder struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *eventRecorder) record(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *eventRecorder) seen() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.types...)
}

type testEnv struct {
	clock       *testClock
	repos       repository.Repositories
	credentials *CredentialStore
	auth        *AuthService
	recorder    *eventRecorder
}

var testArgon2 = auth.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1, KeyLength: 32, SaltBytes: 16}

const alicePassword = "Sup3rSecret"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := persistence.NewSQLite(ctx, config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "auth.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, persistence.RunSQLiteMigrations(ctx, store.DB, zap.NewNop()))
	repos := repository.NewSQLiteRepositories(store.DB)

	clock := &testClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	hasher, err := auth.NewPasswordHasher(auth.AlgorithmArgon2id, 0, testArgon2)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(auth.TokenManagerConfig{
		Secret:     "service-test-secret",
		Algorithm:  "HS256",
		Issuer:     "smart-retail",
		AccessTTL:  60 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher()
	recorder := &eventRecorder{}
	for _, typ := range events.AllEventTypes {
		dispatcher.Subscribe(typ, recorder.record)
	}

	credentials := NewCredentialStore(CredentialStoreDependencies{
		Credentials: repos.Credentials,
		Hasher:      hasher,
		Policy:      auth.PasswordPolicy{MinLength: 8, RequireUpper: true, RequireLower: true, RequireDigit: true},
		Dispatcher:  dispatcher,
		Logger:      zap.NewNop(),
		Now:         clock.Now,
	})
	authService := NewAuthService(AuthDependencies{
		Credentials:   credentials,
		RefreshTokens: repos.RefreshTokens,
		Tokens:        tokens,
		Revocations:   auth.NewMemoryRevocationSet(clock.Now),
		Dispatcher:    dispatcher,
		Logger:        zap.NewNop(),
	})

	return &testEnv{
		clock:       clock,
		repos:       repos,
		credentials: credentials,
		auth:        authService,
		recorder:    recorder,
	}
}
