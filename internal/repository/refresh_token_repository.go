package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshToken is the server-side record of an issued refresh token, keyed by its jti.
type RefreshToken struct {
	ID         string
	UserID     string
	SessionID  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UsedAt     *time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
}

// Active reports whether the token may still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.UsedAt == nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	Get(ctx context.Context, id string) (*RefreshToken, error)
	// Rotate marks usedID as consumed and stores next in one transaction.
	// It returns ErrNotActive when usedID was already used or revoked, so
	// of two concurrent rotations of the same token exactly one succeeds.
	Rotate(ctx context.Context, usedID string, next *RefreshToken, at time.Time) error
	RevokeSession(ctx context.Context, sessionID string, at time.Time) (int64, error)
	// RevokeUser revokes every live token of userID and returns the
	// distinct sessions that were still open.
	RevokeUser(ctx context.Context, userID string, at time.Time) ([]string, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type refreshTokenRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshTokenRepository constructs a Postgres-backed repository.
func NewRefreshTokenRepository(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepository{pool: pool}
}

const pgInsertRefreshToken = `
        INSERT INTO refresh_tokens (id, user_id, session_id, expires_at, created_at)
        VALUES ($1,$2,$3,$4,$5)`

func (r *refreshTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	_, err := r.pool.Exec(ctx, pgInsertRefreshToken,
		token.ID,
		token.UserID,
		token.SessionID,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return mapPostgresError(err)
}

func (r *refreshTokenRepository) Get(ctx context.Context, id string) (*RefreshToken, error) {
	const query = `
        SELECT id, user_id, session_id, expires_at, created_at, used_at, revoked_at, replaced_by
        FROM refresh_tokens WHERE id=$1`
	var token RefreshToken
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&token.ID,
		&token.UserID,
		&token.SessionID,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.UsedAt,
		&token.RevokedAt,
		&token.ReplacedBy,
	); err != nil {
		return nil, mapPostgresError(err)
	}
	return &token, nil
}

func (r *refreshTokenRepository) Rotate(ctx context.Context, usedID string, next *RefreshToken, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const consume = `
        UPDATE refresh_tokens SET used_at=$1, replaced_by=$2
        WHERE id=$3 AND used_at IS NULL AND revoked_at IS NULL`
	cmd, err := tx.Exec(ctx, consume, at, next.ID, usedID)
	if err != nil {
		return mapPostgresError(err)
	}
	if cmd.RowsAffected() != 1 {
		return ErrNotActive
	}

	if _, err := tx.Exec(ctx, pgInsertRefreshToken,
		next.ID,
		next.UserID,
		next.SessionID,
		next.ExpiresAt,
		next.CreatedAt,
	); err != nil {
		return mapPostgresError(err)
	}
	return tx.Commit(ctx)
}

func (r *refreshTokenRepository) RevokeSession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked_at=$1 WHERE session_id=$2 AND revoked_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, at, sessionID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *refreshTokenRepository) RevokeUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	const query = `
        UPDATE refresh_tokens SET revoked_at=$1
        WHERE user_id=$2 AND revoked_at IS NULL
        RETURNING session_id`
	rows, err := r.pool.Query(ctx, query, at, userID)
	if err != nil {
		return nil, err
	}
	sessions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return distinct(sessions), nil
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
