package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth/internal/user/entity"
)

// UserRepo provides data access for users table using sqlx.
// Lookups that find nothing return sql.ErrNoRows.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

const ddlUsers = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email CITEXT NOT NULL CONSTRAINT users_email_key UNIQUE,
  phone TEXT NOT NULL CONSTRAINT users_phone_key UNIQUE,
  username TEXT NOT NULL CONSTRAINT users_username_key UNIQUE,
  secret_code_hash TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT true,
  is_2fa_enabled BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_login TIMESTAMPTZ
);
`

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, ddlUsers)
	return err
}

const (
	userColumns = `id, email, phone, username, secret_code_hash, password_hash, is_active, is_2fa_enabled, created_at, last_login`

	qInsertUser = `INSERT INTO users (email, phone, username, secret_code_hash, password_hash, is_active, is_2fa_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	qUserByEmail    = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	qUserByPhone    = `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	qUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	qUserByID       = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	qTouchLogin     = `UPDATE users SET last_login = $2 WHERE id = $1`
	qSetActive      = `UPDATE users SET is_active = $2 WHERE id = $1`
)

// Create inserts a new user row and sets u.ID. Unique violations come back
// as *entity.DuplicateHandleError.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	err := r.db.QueryRowxContext(ctx, qInsertUser,
		u.Email, u.Phone, u.Username, u.SecretCodeHash, u.PasswordHash, u.IsActive, u.Is2FAEnabled, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return 0, mapUniqueViolation(err)
	}
	return u.ID, nil
}

// GetByEmail matches case-insensitively (citext).
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, qUserByEmail, email)
}

func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*entity.User, error) {
	return r.getOne(ctx, qUserByPhone, phone)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.getOne(ctx, qUserByUsername, username)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.getOne(ctx, qUserByID, id)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, arg); err != nil {
		return nil, err
	}
	return &u, nil
}

// TouchLastLogin records a successful second-factor login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, qTouchLogin, id, at)
	return err
}

// SetActive deactivates or reactivates a user. Returns false if no such user.
func (r *UserRepo) SetActive(ctx context.Context, id int64, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, qSetActive, id, active)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const pqUniqueViolation = "23505"

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return err
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return &entity.DuplicateHandleError{Handle: entity.HandleEmail}
	case strings.Contains(pqErr.Constraint, "phone"):
		return &entity.DuplicateHandleError{Handle: entity.HandlePhone}
	case strings.Contains(pqErr.Constraint, "username"):
		return &entity.DuplicateHandleError{Handle: entity.HandleUsername}
	}
	return err
}
