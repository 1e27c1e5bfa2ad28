package auth

import (
	"context"
	"errors"

	"github.com/smart-retail/platform/internal/domain"
	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

// Verifier validates access tokens against the signing key and the
// revocation set. The gateway and user-management share one configuration.
type Verifier struct {
	tokens      *TokenManager
	revocations RevocationSet
}

// NewVerifier builds a verifier.
func NewVerifier(tokens *TokenManager, revocations RevocationSet) *Verifier {
	return &Verifier{tokens: tokens, revocations: revocations}
}

// VerifyAccess checks signature, then expiry, then revocation.
func (v *Verifier) VerifyAccess(ctx context.Context, token string) (*domain.Principal, error) {
	claims, err := v.tokens.Parse(token, domain.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	revoked, err := v.revocations.IsRevoked(ctx, claims.IssuedAt.Time, TokenKey(claims.ID), SessionKey(claims.SessionID))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if revoked {
		return nil, apperrors.NewTokenInvalid(errors.New("token revoked"))
	}

	return &domain.Principal{
		UserID:    claims.Subject,
		Identity:  claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
