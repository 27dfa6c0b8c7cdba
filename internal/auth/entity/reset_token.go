package entity

import "time"

// ResetToken is a row in password_reset_tokens. A user owns at most one.
type ResetToken struct {
	ID         int64     `db:"id"`
	Token      string    `db:"token"`
	UserID     int64     `db:"user_id"`
	ExpiryDate time.Time `db:"expiry_date"`
	CreatedAt  time.Time `db:"created_at"`
}

// Valid reports whether the token can still be redeemed at now.
func (t *ResetToken) Valid(now time.Time) bool { return t.ExpiryDate.After(now) }
