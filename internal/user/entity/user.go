package entity

import "time"

// Type is the account role stored in users.user_type.
type Type string

const (
	TypeUser       Type = "user"
	TypeAdmin      Type = "admin"
	TypeSuperAdmin Type = "super_admin"
)

func (t Type) Valid() bool {
	switch t {
	case TypeUser, TypeAdmin, TypeSuperAdmin:
		return true
	}
	return false
}

// User represents an account row in the `users` table.
type User struct {
	ID              int64      `db:"id"`
	Name            string     `db:"name"`
	Email           string     `db:"email"`
	Phone           *string    `db:"phone"`
	PasswordHash    string     `db:"password_hash"`
	EmailVerifiedAt *time.Time `db:"email_verified_at"`
	PhoneVerifiedAt *time.Time `db:"phone_verified_at"`
	Avatar          *string    `db:"avatar"`
	Address         *string    `db:"address"`
	IsSuperAdmin    bool       `db:"is_super_admin"`
	Type            Type       `db:"user_type"`
	FCMToken        *string    `db:"fcm_token"`
	LastLoginAt     *time.Time `db:"last_login_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (u *User) EmailVerified() bool { return u.EmailVerifiedAt != nil }

// View is the sanitized projection returned to callers: no password hash and
// no audit timestamps.
type View struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           *string    `json:"phone"`
	EmailVerifiedAt *time.Time `json:"emailVerifiedAt"`
	PhoneVerifiedAt *time.Time `json:"phoneVerifiedAt"`
	Avatar          *string    `json:"avatar"`
	Address         *string    `json:"address"`
	IsSuperAdmin    bool       `json:"isSuperAdmin"`
	Type            Type       `json:"type"`
	LastLogin       *time.Time `json:"lastLogin"`
}

// Sanitize builds the View for u.
func Sanitize(u *User) View {
	return View{
		ID:              FormatID(u.ID),
		Name:            u.Name,
		Email:           u.Email,
		Phone:           u.Phone,
		EmailVerifiedAt: u.EmailVerifiedAt,
		PhoneVerifiedAt: u.PhoneVerifiedAt,
		Avatar:          u.Avatar,
		Address:         u.Address,
		IsSuperAdmin:    u.IsSuperAdmin,
		Type:            u.Type,
		LastLogin:       u.LastLoginAt,
	}
}
