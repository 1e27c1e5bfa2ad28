package dto

import (
	"time"

	"github.com/smart-retail/platform/internal/domain"
)

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries the refresh token to rotate.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest names the token to revoke; the bearer token is used when empty.
type LogoutRequest struct {
	Token string `json:"token"`
}

// ChangePasswordRequest payload for PUT /users/me/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UserResponse is the public view of a credential.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserResponse hides the password hash and internal fields.
func NewUserResponse(cred *domain.Credential) UserResponse {
	return UserResponse{
		ID:        cred.ID,
		Email:     cred.Identity,
		FullName:  cred.DisplayName,
		Role:      string(cred.Role),
		IsActive:  true,
		CreatedAt: cred.CreatedAt,
	}
}

// TokenResponse standard response for login and refresh.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// NewTokenResponse reports lifetimes in seconds relative to now.
func NewTokenResponse(pair *domain.TokenPair, now time.Time) TokenResponse {
	return TokenResponse{
		AccessToken:      pair.AccessToken,
		TokenType:        "bearer",
		ExpiresIn:        int64(pair.AccessExpiresAt.Sub(now).Seconds()),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresIn: int64(pair.RefreshExpiresAt.Sub(now).Seconds()),
	}
}
