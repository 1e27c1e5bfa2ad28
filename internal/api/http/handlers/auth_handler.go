package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/smart-retail/platform/internal/api/dto"
	"github.com/smart-retail/platform/internal/auth"
	"github.com/smart-retail/platform/internal/domain"
	"github.com/smart-retail/platform/internal/service"
	apperrors "github.com/smart-retail/platform/pkg/util/errorutil"
)

// AuthHandler exposes account and session endpoints.
type AuthHandler struct {
	credentials *service.CredentialStore
	auth        *service.AuthService
	// allowAdmin permits self-registration with the admin role.
	allowAdmin bool
}

// NewAuthHandler constructs handler.
func NewAuthHandler(credentials *service.CredentialStore, authService *service.AuthService, allowAdmin bool) *AuthHandler {
	return &AuthHandler{credentials: credentials, auth: authService, allowAdmin: allowAdmin}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}
	if domain.Role(req.Role) == domain.RoleAdmin && !h.allowAdmin {
		return apperrors.NewForbidden("admin registration is disabled")
	}

	cred, err := h.credentials.Register(c.UserContext(), req.Email, req.Password, req.FullName, domain.Role(req.Role))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.NewUserResponse(cred))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}

	pair, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTokenResponse(pair, h.auth.Now()))
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.RefreshToken == "" {
		return apperrors.NewTokenInvalid(errors.New("refresh token missing"))
	}

	pair, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTokenResponse(pair, h.auth.Now()))
}

// Logout handles POST /auth/logout. The token to revoke comes from the body,
// falling back to the bearer token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}
	token := req.Token
	if token == "" {
		bearer, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}
		token = bearer
	}

	if err := h.auth.Logout(c.UserContext(), token); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Me handles GET /auth/me and GET /users/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	cred, err := h.credentials.Get(c.UserContext(), principal.UserID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewUserResponse(cred))
}

// ChangePassword handles PUT /users/me/password. Every session of the user,
// including the current one, ends.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return fiber.NewError(http.StatusBadRequest, "current_password and new_password required")
	}

	if err := h.auth.ChangePassword(c.UserContext(), principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// DeleteAccount handles DELETE /users/me.
func (h *AuthHandler) DeleteAccount(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	if err := h.auth.DeleteAccount(c.UserContext(), principal.UserID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func principalOf(c *fiber.Ctx) (*domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewTokenInvalid(errors.New("no principal on request"))
	}
	return principal, nil
}
