package domain

import (
	"strings"
	"time"
)

// Role is the authorization level stored on a credential.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Credential is the stored account record. PasswordHash is an encoded
// algorithm+parameters+salt+digest string and never leaves the service.
type Credential struct {
	ID           string    `json:"id"`
	Identity     string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"full_name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeIdentity makes identities case-insensitive.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
