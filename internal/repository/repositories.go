package repository

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories groups the stores backing user-management.
type Repositories struct {
	Credentials   CredentialRepository
	RefreshTokens RefreshTokenRepository
}

// NewPostgresRepositories wires every repository to one pool.
func NewPostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Credentials:   NewCredentialRepository(pool),
		RefreshTokens: NewRefreshTokenRepository(pool),
	}
}

// NewSQLiteRepositories wires every repository to one SQLite handle.
func NewSQLiteRepositories(db *sql.DB) Repositories {
	return Repositories{
		Credentials:   NewSQLiteCredentialRepository(db),
		RefreshTokens: NewSQLiteRefreshTokenRepository(db),
	}
}
