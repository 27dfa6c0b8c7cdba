package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// ResetTokenRepo stores password reset tokens.
type ResetTokenRepo struct {
	db *sqlx.DB
}

func NewResetTokenRepo(db *sqlx.DB) *ResetTokenRepo { return &ResetTokenRepo{db: db} }

// EnsureTable creates password_reset_tokens. The users table must exist.
func (r *ResetTokenRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS password_reset_tokens (
  id BIGSERIAL PRIMARY KEY,
  token TEXT NOT NULL UNIQUE,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  expiry_date TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_password_reset_tokens_user_id ON password_reset_tokens(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return database.MapError(err)
}

// DeleteAllForUser removes every token the user holds.
func (r *ResetTokenRepo) DeleteAllForUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE user_id=$1`, userID)
	return database.MapError(err)
}

// Insert stores t and fills in its id and creation time.
func (r *ResetTokenRepo) Insert(ctx context.Context, t *entity.ResetToken) error {
	const q = `INSERT INTO password_reset_tokens (token, user_id, expiry_date)
		VALUES ($1, $2, $3) RETURNING id, created_at`
	row := r.db.QueryRowxContext(ctx, q, t.Token, t.UserID, t.ExpiryDate)
	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		return database.MapError(err)
	}
	return nil
}

// FindByToken returns the stored token, expired or not, or database.ErrNotFound.
func (r *ResetTokenRepo) FindByToken(ctx context.Context, token string) (*entity.ResetToken, error) {
	const q = `SELECT id, token, user_id, expiry_date, created_at FROM password_reset_tokens WHERE token=$1`
	var t entity.ResetToken
	if err := r.db.GetContext(ctx, &t, q, token); err != nil {
		return nil, database.MapError(err)
	}
	return &t, nil
}

func (r *ResetTokenRepo) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE id=$1`, id)
	return database.MapError(err)
}
