package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smart-retail/platform/internal/auth"
	"github.com/smart-retail/platform/internal/domain"
	"github.com/smart-retail/platform/internal/events"
	"github.com/smart-retail/platform/internal/repository"
	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

// CredentialStore owns identities and password hashes.
type CredentialStore struct {
	credentials repository.CredentialRepository
	hasher      *auth.PasswordHasher
	policy      auth.PasswordPolicy
	validate    *validator.Validate
	events      publisher
	now         func() time.Time
}

// CredentialStoreDependencies encapsulates requirements for the credential store.
type CredentialStoreDependencies struct {
	Credentials repository.CredentialRepository
	Hasher      *auth.PasswordHasher
	Policy      auth.PasswordPolicy
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// NewCredentialStore builds the store.
func NewCredentialStore(deps CredentialStoreDependencies) *CredentialStore {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{
		credentials: deps.Credentials,
		hasher:      deps.Hasher,
		policy:      deps.Policy,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		events:      publisher{dispatcher: deps.Dispatcher, logger: deps.Logger},
		now:         now,
	}
}

type registration struct {
	Identity    string      `validate:"required,email,max=254"`
	DisplayName string      `validate:"max=128"`
	Role        domain.Role `validate:"oneof=user admin"`
}

// Register creates a credential. Role defaults to user.
func (s *CredentialStore) Register(ctx context.Context, identity, password, displayName string, role domain.Role) (*domain.Credential, error) {
	if role == "" {
		role = domain.RoleUser
	}
	req := registration{
		Identity:    domain.NormalizeIdentity(identity),
		DisplayName: displayName,
		Role:        role,
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	hash, err := s.hashNewPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cred := &domain.Credential{
		ID:           uuid.NewString(),
		Identity:     req.Identity,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.ErrDuplicateIdentity
		}
		return nil, err
	}

	s.events.publish(ctx, events.EventUserRegistered, cred.ID, "", now, events.UserRegisteredPayload{
		Identity: cred.Identity,
		Role:     string(cred.Role),
	})
	return cred, nil
}

// Verify reports whether password matches the stored hash for identity.
// Unknown identities cost one KDF evaluation, the same as a mismatch.
func (s *CredentialStore) Verify(ctx context.Context, identity, password string) (bool, error) {
	cred, err := s.credentials.GetByIdentity(ctx, domain.NormalizeIdentity(identity))
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.VerifyDummy(password)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.hasher.Verify(cred.PasswordHash, password)
}

// Authenticate returns the credential when password matches, else InvalidCredentials.
func (s *CredentialStore) Authenticate(ctx context.Context, identity, password string) (*domain.Credential, error) {
	normalized := domain.NormalizeIdentity(identity)
	cred, err := s.credentials.GetByIdentity(ctx, normalized)
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.VerifyDummy(password)
		s.loginFailed(ctx, normalized, "unknown identity")
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(cred.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.loginFailed(ctx, normalized, "password mismatch")
		return nil, apperrors.ErrInvalidCredentials
	}
	return cred, nil
}

func (s *CredentialStore) loginFailed(ctx context.Context, identity, reason string) {
	s.events.publish(ctx, events.EventLoginFailed, "", "", s.now().UTC(), events.LoginFailedPayload{
		Identity: identity,
		Reason:   reason,
	})
}

// Get returns the credential for userID.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*domain.Credential, error) {
	cred, err := s.credentials.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("user", nil)
	}
	return cred, err
}

// ChangePassword replaces the hash after checking the current password.
// It does not touch issued tokens; see AuthService.ChangePassword.
func (s *CredentialStore) ChangePassword(ctx context.Context, userID, current, next string) error {
	cred, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(cred.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrInvalidCredentials
	}

	hash, err := s.hashNewPassword(next)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.credentials.UpdatePassword(ctx, userID, hash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("user", nil)
		}
		return err
	}

	s.events.publish(ctx, events.EventPasswordChanged, userID, "", now, nil)
	return nil
}

// Delete removes the credential and, by cascade, its refresh tokens.
func (s *CredentialStore) Delete(ctx context.Context, userID string) error {
	if err := s.credentials.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("user", nil)
		}
		return err
	}
	s.events.publish(ctx, events.EventAccountDeleted, userID, "", s.now().UTC(), nil)
	return nil
}

func (s *CredentialStore) hashNewPassword(password string) (string, error) {
	if reasons := s.policy.Check(password); len(reasons) > 0 {
		return "", apperrors.NewWeakPassword(reasons)
	}
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return "", apperrors.NewWeakPassword([]string{"must be at most 72 bytes"})
	}
	return hash, err
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError("invalid request", nil)
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperrors.NewValidationError("invalid request", fields)
}
