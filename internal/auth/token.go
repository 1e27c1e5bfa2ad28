package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/smart-retail/platform/internal/domain"
	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

// TokenManager handles issuing and validating signed JWT tokens.
type TokenManager struct {
	secret     []byte
	method     jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenManagerConfig carries signing material and lifetimes.
type TokenManagerConfig struct {
	Secret     string
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret is empty")
	}
	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenManager{
		secret:     []byte(cfg.Secret),
		method:     method,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        now,
	}, nil
}

// Claims describes JWT payload.
type Claims struct {
	Email     string           `json:"email"`
	Role      domain.Role      `json:"role"`
	SessionID string           `json:"sid"`
	Type      domain.TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Subject is the identity a token is minted for.
type Subject struct {
	UserID   string
	Identity string
	Role     domain.Role
}

// Issue builds and signs a token of the given type within sessionID.
func (tm *TokenManager) Issue(subject Subject, sessionID string, typ domain.TokenType) (string, *Claims, error) {
	ttl := tm.accessTTL
	if typ == domain.TokenTypeRefresh {
		ttl = tm.refreshTTL
	}
	issuedAt := tm.now()
	claims := &Claims{
		Email:     subject.Identity,
		Role:      subject.Role,
		SessionID: sessionID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.UserID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(tm.method, claims).SignedString(tm.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse checks signature, then expiry, then token type. Claim validation is
// done here rather than by the jwt library so the order is fixed.
func (tm *TokenManager) Parse(tokenStr string, want domain.TokenType) (*Claims, error) {
	claims, err := tm.ParseSignature(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, apperrors.NewTokenInvalid(errors.New("missing or inconsistent lifetime claims"))
	}
	if !tm.now().Before(claims.ExpiresAt.Time) {
		return nil, apperrors.ErrTokenExpired
	}
	if claims.Type != want {
		return nil, apperrors.NewTokenInvalid(fmt.Errorf("expected %s token, got %q", want, claims.Type))
	}
	return claims, nil
}

// ParseSignature verifies integrity only; expired tokens are returned too.
func (tm *TokenManager) ParseSignature(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}, jwt.WithValidMethods([]string{tm.method.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, apperrors.NewTokenInvalid(err)
	}
	if !parsed.Valid {
		return nil, apperrors.NewTokenInvalid(errors.New("invalid token"))
	}
	if claims.Issuer != tm.issuer || claims.ID == "" || claims.Subject == "" || claims.SessionID == "" {
		return nil, apperrors.NewTokenInvalid(errors.New("missing required claims"))
	}
	return claims, nil
}

// AccessTTL is the lifetime of access tokens; revocations never need to outlive it.
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTTL
}

// Now returns the manager's clock reading.
func (tm *TokenManager) Now() time.Time {
	return tm.now()
}
