package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smart-retail/platform/internal/domain"
)

// CredentialRepository defines persistence access for credentials.
// Identities are stored normalized; callers normalize before lookups.
type CredentialRepository interface {
	Create(ctx context.Context, cred *domain.Credential) error
	GetByID(ctx context.Context, id string) (*domain.Credential, error)
	GetByIdentity(ctx context.Context, identity string) (*domain.Credential, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type credentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository returns a Postgres-backed implementation.
func NewCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepository{pool: pool}
}

func (r *credentialRepository) Create(ctx context.Context, cred *domain.Credential) error {
	const query = `
        INSERT INTO credentials (id, identity, password_hash, display_name, role, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		cred.ID,
		cred.Identity,
		cred.PasswordHash,
		cred.DisplayName,
		string(cred.Role),
		cred.CreatedAt,
		cred.UpdatedAt,
	)
	return mapPostgresError(err)
}

func (r *credentialRepository) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	const query = `
        SELECT id, identity, password_hash, display_name, role, created_at, updated_at
        FROM credentials WHERE id=$1`
	return r.scanOne(ctx, query, id)
}

func (r *credentialRepository) GetByIdentity(ctx context.Context, identity string) (*domain.Credential, error) {
	const query = `
        SELECT id, identity, password_hash, display_name, role, created_at, updated_at
        FROM credentials WHERE identity=$1`
	return r.scanOne(ctx, query, identity)
}

func (r *credentialRepository) scanOne(ctx context.Context, query string, arg string) (*domain.Credential, error) {
	var (
		cred domain.Credential
		role string
	)
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&cred.ID,
		&cred.Identity,
		&cred.PasswordHash,
		&cred.DisplayName,
		&role,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		return nil, mapPostgresError(err)
	}
	cred.Role = domain.Role(role)
	return &cred, nil
}

func (r *credentialRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE credentials SET password_hash=$1, updated_at=$2 WHERE id=$3`

	cmd, err := r.pool.Exec(ctx, query, passwordHash, updatedAt, id)
	if err != nil {
		return mapPostgresError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *credentialRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE id=$1`, id)
	if err != nil {
		return mapPostgresError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
