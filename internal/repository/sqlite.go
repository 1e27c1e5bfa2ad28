package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/smart-retail/platform/internal/domain"
)

// SQLite stores times as unix milliseconds.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqliteCredentialRepository struct {
	db *sql.DB
}

// NewSQLiteCredentialRepository returns a CredentialRepository over an embedded SQLite file.
func NewSQLiteCredentialRepository(db *sql.DB) CredentialRepository {
	return &sqliteCredentialRepository{db: db}
}

func (r *sqliteCredentialRepository) Create(ctx context.Context, cred *domain.Credential) error {
	const query = `
        INSERT INTO credentials (id, identity, password_hash, display_name, role, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		cred.ID,
		cred.Identity,
		cred.PasswordHash,
		cred.DisplayName,
		string(cred.Role),
		toMillis(cred.CreatedAt),
		toMillis(cred.UpdatedAt),
	)
	return mapSQLiteError(err)
}

func (r *sqliteCredentialRepository) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	const query = `
        SELECT id, identity, password_hash, display_name, role, created_at, updated_at
        FROM credentials WHERE id=?`
	return r.scanOne(ctx, query, id)
}

func (r *sqliteCredentialRepository) GetByIdentity(ctx context.Context, identity string) (*domain.Credential, error) {
	const query = `
        SELECT id, identity, password_hash, display_name, role, created_at, updated_at
        FROM credentials WHERE identity=?`
	return r.scanOne(ctx, query, identity)
}

func (r *sqliteCredentialRepository) scanOne(ctx context.Context, query, arg string) (*domain.Credential, error) {
	var (
		cred             domain.Credential
		role             string
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&cred.ID,
		&cred.Identity,
		&cred.PasswordHash,
		&cred.DisplayName,
		&role,
		&created,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cred.Role = domain.Role(role)
	cred.CreatedAt = fromMillis(created)
	cred.UpdatedAt = fromMillis(updated)
	return &cred, nil
}

func (r *sqliteCredentialRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET password_hash=?, updated_at=? WHERE id=?`,
		passwordHash, toMillis(updatedAt), id)
	if err != nil {
		return mapSQLiteError(err)
	}
	return requireOneRow(res)
}

func (r *sqliteCredentialRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqliteRefreshTokenRepository struct {
	db *sql.DB
}

// NewSQLiteRefreshTokenRepository returns a RefreshTokenRepository over SQLite.
func NewSQLiteRefreshTokenRepository(db *sql.DB) RefreshTokenRepository {
	return &sqliteRefreshTokenRepository{db: db}
}

const sqliteInsertRefreshToken = `
        INSERT INTO refresh_tokens (id, user_id, session_id, expires_at, created_at)
        VALUES (?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, token *RefreshToken) error {
	_, err := db.ExecContext(ctx, sqliteInsertRefreshToken,
		token.ID,
		token.UserID,
		token.SessionID,
		toMillis(token.ExpiresAt),
		toMillis(token.CreatedAt),
	)
	return mapSQLiteError(err)
}

func (r *sqliteRefreshTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	return insertRefreshToken(ctx, r.db, token)
}

func (r *sqliteRefreshTokenRepository) Get(ctx context.Context, id string) (*RefreshToken, error) {
	const query = `
        SELECT id, user_id, session_id, expires_at, created_at, used_at, revoked_at, replaced_by
        FROM refresh_tokens WHERE id=?`
	var (
		token             RefreshToken
		expires, created  int64
		usedAt, revokedAt sql.NullInt64
		replacedBy        sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&token.ID,
		&token.UserID,
		&token.SessionID,
		&expires,
		&created,
		&usedAt,
		&revokedAt,
		&replacedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	token.ExpiresAt = fromMillis(expires)
	token.CreatedAt = fromMillis(created)
	token.UsedAt = nullableMillis(usedAt)
	token.RevokedAt = nullableMillis(revokedAt)
	if replacedBy.Valid {
		token.ReplacedBy = &replacedBy.String
	}
	return &token, nil
}

func (r *sqliteRefreshTokenRepository) Rotate(ctx context.Context, usedID string, next *RefreshToken, at time.Time) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE refresh_tokens SET used_at=?, replaced_by=?
            WHERE id=? AND used_at IS NULL AND revoked_at IS NULL`,
			toMillis(at), next.ID, usedID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrNotActive
		}
		return insertRefreshToken(ctx, tx, next)
	})
}

func (r *sqliteRefreshTokenRepository) RevokeSession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE refresh_tokens SET revoked_at=? WHERE session_id=? AND revoked_at IS NULL`, toMillis(at), sessionID)
}

func (r *sqliteRefreshTokenRepository) RevokeUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
        UPDATE refresh_tokens SET revoked_at=?
        WHERE user_id=? AND revoked_at IS NULL
        RETURNING session_id`, toMillis(at), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		sessions = append(sessions, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return distinct(sessions), nil
}

func (r *sqliteRefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, toMillis(before))
}

func (r *sqliteRefreshTokenRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
