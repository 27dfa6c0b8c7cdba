package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// ErrInvalidType rejects a user_type outside the known roles.
var ErrInvalidType = errors.New("invalid user type")

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGINT PRIMARY KEY,
  name TEXT NOT NULL,
  email CITEXT NOT NULL,
  phone TEXT,
  password_hash TEXT NOT NULL,
  email_verified_at TIMESTAMPTZ,
  phone_verified_at TIMESTAMPTZ,
  avatar TEXT,
  address TEXT,
  is_super_admin BOOLEAN NOT NULL DEFAULT false,
  user_type TEXT NOT NULL DEFAULT 'user',
  fcm_token TEXT,
  last_login_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT users_email_key UNIQUE (email),
  CONSTRAINT users_phone_key UNIQUE (phone)
);
CREATE INDEX IF NOT EXISTS idx_users_user_type ON users(user_type);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return database.MapError(err)
}

const userColumns = `id, name, email, phone, password_hash, email_verified_at, phone_verified_at,
	avatar, address, is_super_admin, user_type, fcm_token, last_login_at, created_at, updated_at`

// Create inserts a new user row. The caller assigns u.ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id,name,email,phone,password_hash,email_verified_at,phone_verified_at,
		avatar,address,is_super_admin,user_type,fcm_token,created_at,updated_at)
		VALUES (:id,:name,:email,:phone,:password_hash,:email_verified_at,:phone_verified_at,
		:avatar,:address,:is_super_admin,:user_type,:fcm_token,:created_at,:updated_at)`
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Type == "" {
		u.Type = entity.TypeUser
	}
	if !u.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, u.Type)
	}
	if _, err := r.db.NamedExecContext(ctx, q, u); err != nil {
		return database.MapError(err)
	}
	return nil
}

// GetByEmail returns a user matched by email (case-insensitive due to citext) or database.ErrNotFound.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

// GetByPhone fetches by phone number.
func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone=$1`, phone)
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		return nil, database.MapError(err)
	}
	return &row, nil
}

// Update writes the mutable profile and verification columns of u.
func (r *UserRepo) Update(ctx context.Context, u *entity.User) error {
	const q = `UPDATE users SET name=:name, email=:email, phone=:phone, avatar=:avatar, address=:address,
		email_verified_at=:email_verified_at, phone_verified_at=:phone_verified_at,
		fcm_token=:fcm_token, updated_at=:updated_at WHERE id=:id`
	u.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, q, u)
	if err != nil {
		return database.MapError(err)
	}
	return expectOneRow(res.RowsAffected())
}

// UpdatePasswordHash replaces the stored password hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, hash)
	if err != nil {
		return database.MapError(err)
	}
	return expectOneRow(res.RowsAffected())
}

// MarkEmailVerified sets email_verified_at without touching profile columns.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET email_verified_at=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return database.MapError(err)
	}
	return expectOneRow(res.RowsAffected())
}

// TouchLastLogin records a successful authentication.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET last_login_at=$2 WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, at)
	return database.MapError(err)
}

// DeleteAll removes every user. Used by the seeder only.
func (r *UserRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users`)
	if err != nil {
		return 0, database.MapError(err)
	}
	return res.RowsAffected()
}

func expectOneRow(n int64, err error) error {
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
