package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/auth"
	"github.com/smart-retail/platform/internal/domain"
	"github.com/smart-retail/platform/internal/events"
	"github.com/smart-retail/platform/internal/repository"
	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

// AuthService coordinates login, token rotation and session revocation.
type AuthService struct {
	credentials   *CredentialStore
	refreshTokens repository.RefreshTokenRepository
	tokens        *auth.TokenManager
	revocations   auth.RevocationSet
	verifier      *auth.Verifier
	events        publisher
	logger        *zap.Logger
}

// AuthDependencies encapsulates requirements for the auth service.
type AuthDependencies struct {
	Credentials   *CredentialStore
	RefreshTokens repository.RefreshTokenRepository
	Tokens        *auth.TokenManager
	Revocations   auth.RevocationSet
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
}

// NewAuthService builds the service. Its clock is the token manager's.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		credentials:   deps.Credentials,
		refreshTokens: deps.RefreshTokens,
		tokens:        deps.Tokens,
		revocations:   deps.Revocations,
		verifier:      auth.NewVerifier(deps.Tokens, deps.Revocations),
		events:        publisher{dispatcher: deps.Dispatcher, logger: logger},
		logger:        logger,
	}
}

// Login authenticates identity and opens a new session.
func (s *AuthService) Login(ctx context.Context, identity, password string) (*domain.TokenPair, error) {
	cred, err := s.credentials.Authenticate(ctx, identity, password)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	pair, refresh, err := s.mint(cred, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshTokens.Create(ctx, refresh); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.events.publish(ctx, events.EventLoginSucceeded, cred.ID, sessionID, s.tokens.Now(), nil)
	return pair, nil
}

// VerifyAccess validates an access token; see auth.Verifier.
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (*domain.Principal, error) {
	return s.verifier.VerifyAccess(ctx, token)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed atomically; every failure is reported as TokenInvalid. Presenting
// a token that was already exchanged revokes its whole session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		return nil, asTokenInvalid(err)
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.IssuedAt.Time, auth.TokenKey(claims.ID), auth.SessionKey(claims.SessionID))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if revoked {
		return nil, apperrors.NewTokenInvalid(errors.New("refresh token revoked"))
	}

	record, err := s.refreshTokens.Get(ctx, claims.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewTokenInvalid(errors.New("unknown refresh token"))
	}
	if err != nil {
		return nil, err
	}
	if record.UserID != claims.Subject || record.SessionID != claims.SessionID {
		return nil, apperrors.NewTokenInvalid(errors.New("refresh token does not match record"))
	}

	now := s.tokens.Now()
	if record.UsedAt != nil {
		s.logger.Warn("refresh token reuse detected",
			zap.String("user_id", record.UserID),
			zap.String("session_id", record.SessionID))
		if err := s.revokeSession(ctx, record.SessionID, now); err != nil {
			return nil, err
		}
		s.events.publish(ctx, events.EventRefreshReuseDetected, record.UserID, record.SessionID, now,
			events.RefreshReuseDetectedPayload{TokenID: record.ID})
		return nil, apperrors.NewTokenInvalid(errors.New("refresh token reused"))
	}
	if !record.Active(now) {
		return nil, apperrors.NewTokenInvalid(errors.New("refresh token inactive"))
	}

	cred, err := s.credentials.Get(ctx, claims.Subject)
	if err != nil {
		return nil, asTokenInvalid(err)
	}

	pair, next, err := s.mint(cred, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshTokens.Rotate(ctx, record.ID, next, now); err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return nil, apperrors.NewTokenInvalid(err)
		}
		return nil, err
	}

	s.events.publish(ctx, events.EventTokenRefreshed, cred.ID, claims.SessionID, now, nil)
	return pair, nil
}

// Logout revokes the presented token and its session. Access and refresh
// tokens are accepted, expired or not, as long as the signature holds.
// Repeating a logout is harmless.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.ParseSignature(token)
	if err != nil {
		return err
	}

	now := s.tokens.Now()
	var expired bool
	if claims.ExpiresAt != nil {
		remaining := claims.ExpiresAt.Sub(now)
		expired = remaining <= 0
		ttl := min(remaining, s.tokens.AccessTTL())
		if err := s.revocations.Revoke(ctx, auth.TokenKey(claims.ID), now, ttl); err != nil {
			return apperrors.NewInternalError(err)
		}
	}
	if err := s.revokeSession(ctx, claims.SessionID, now); err != nil {
		return err
	}

	s.events.publish(ctx, events.EventLoggedOut, claims.Subject, claims.SessionID, now,
		events.LoggedOutPayload{TokenID: claims.ID, Expired: expired})
	return nil
}

// RevokeUser ends every open session of userID.
func (s *AuthService) RevokeUser(ctx context.Context, userID string) error {
	now := s.tokens.Now()
	sessions, err := s.refreshTokens.RevokeUser(ctx, userID, now)
	if err != nil {
		return err
	}
	for _, sid := range sessions {
		if err := s.revocations.Revoke(ctx, auth.SessionKey(sid), now, s.tokens.AccessTTL()); err != nil {
			return apperrors.NewInternalError(err)
		}
	}
	s.logger.Info("revoked user sessions", zap.String("user_id", userID), zap.Int("sessions", len(sessions)))
	return nil
}

// ChangePassword updates the password and signs the user out everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if err := s.credentials.ChangePassword(ctx, userID, current, next); err != nil {
		return err
	}
	return s.RevokeUser(ctx, userID)
}

// DeleteAccount revokes every session and then removes the credential.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	if _, err := s.credentials.Get(ctx, userID); err != nil {
		return err
	}
	if err := s.RevokeUser(ctx, userID); err != nil {
		return err
	}
	return s.credentials.Delete(ctx, userID)
}

// Now is the service clock, shared with token issuance.
func (s *AuthService) Now() time.Time {
	return s.tokens.Now()
}

// PurgeExpired drops refresh token records past their expiry.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.refreshTokens.DeleteExpired(ctx, s.tokens.Now())
}

func (s *AuthService) revokeSession(ctx context.Context, sessionID string, now time.Time) error {
	if _, err := s.refreshTokens.RevokeSession(ctx, sessionID, now); err != nil {
		return err
	}
	if err := s.revocations.Revoke(ctx, auth.SessionKey(sessionID), now, s.tokens.AccessTTL()); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (s *AuthService) mint(cred *domain.Credential, sessionID string) (*domain.TokenPair, *repository.RefreshToken, error) {
	subject := auth.Subject{UserID: cred.ID, Identity: cred.Identity, Role: cred.Role}

	access, accessClaims, err := s.tokens.Issue(subject, sessionID, domain.TokenTypeAccess)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := s.tokens.Issue(subject, sessionID, domain.TokenTypeRefresh)
	if err != nil {
		return nil, nil, fmt.Errorf("issue refresh token: %w", err)
	}

	pair := &domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	record := &repository.RefreshToken{
		ID:        refreshClaims.ID,
		UserID:    cred.ID,
		SessionID: sessionID,
		CreatedAt: refreshClaims.IssuedAt.Time,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	return pair, record, nil
}

func asTokenInvalid(err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeTokenInvalid {
		return err
	}
	return apperrors.NewTokenInvalid(err)
}
