package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"goyais.org/hub/internal/auth"
)

const userColumns = `id, email, coalesce(display_name, ''), password_hash, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var (
		u      auth.User
		status string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrNotFound
		}
		return auth.User{}, err
	}
	u.Status = auth.UserStatus(status)
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, email))
}

func (s *Store) FindUser(ctx context.Context, id string) (auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s *Store) CreateAuthToken(ctx context.Context, t auth.AuthToken) error {
	return insertAuthToken(ctx, s.db, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAuthToken(ctx context.Context, db execer, t auth.AuthToken) error {
	_, err := db.ExecContext(ctx, `
		insert into auth_tokens (id, user_id, token_hash, created_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, t.ID, t.UserID, t.TokenHash, t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) FindAuthTokenByHash(ctx context.Context, hash string) (auth.AuthToken, error) {
	var (
		t        auth.AuthToken
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, created_at, expires_at, last_used_at
		from auth_tokens where token_hash = $1
	`, hash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AuthToken{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.AuthToken{}, err
	}
	t.LastUsedAt = timePtr(lastUsed)
	return t, nil
}

func (s *Store) TouchAuthToken(ctx context.Context, tokenID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update auth_tokens set last_used_at = $2 where id = $1`, tokenID, at.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	return insertUser(ctx, s.db, u)
}

func insertUser(ctx context.Context, db execer, u auth.User) error {
	_, err := db.ExecContext(ctx, `
		insert into users (id, email, display_name, password_hash, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, nullIfEmpty(u.DisplayName), u.PasswordHash, string(u.Status), u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}
