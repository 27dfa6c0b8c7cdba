// Package auth implements account signup, login, email verification and
// password reset on top of the user store, the OTP cache and the mail queue.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	authentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mailqueue"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/otp"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

const (
	// ResetTokenTTL is how long a password reset token stays redeemable.
	ResetTokenTTL   = time.Hour
	resetTokenBytes = 32
)

// caller-facing messages
const (
	msgEmailTaken       = "Email already exists"
	msgPhoneTaken       = "Phone already exists"
	msgUserNotFound     = "User not found"
	msgBadCredentials   = "Invalid credentials"
	msgBadOldPassword   = "Current password is incorrect"
	msgAlreadyVerified  = "User already verified"
	msgOTPExpired       = "OTP expired. Please request a new one."
	msgOTPInvalid       = "Invalid OTP"
	msgResetTokenDenied = "Invalid or expired reset token"
	msgUnauthorized     = "Unauthorized"
)

// UserStore is the credential store.
type UserStore interface {
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByPhone(ctx context.Context, phone string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	Update(ctx context.Context, u *entity.User) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	MarkEmailVerified(ctx context.Context, id int64, at time.Time) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// ResetTokenStore keeps password reset tokens.
type ResetTokenStore interface {
	DeleteAllForUser(ctx context.Context, userID int64) error
	Insert(ctx context.Context, t *authentity.ResetToken) error
	FindByToken(ctx context.Context, token string) (*authentity.ResetToken, error)
	DeleteByID(ctx context.Context, id int64) error
}

// OTPManager holds the verification code for each email.
type OTPManager interface {
	Current(ctx context.Context, email string) (otp.Entry, bool, error)
	EnsureLive(ctx context.Context, email string) (otp.Entry, bool, error)
	Consume(ctx context.Context, email string) error
}

// Dispatcher hands email jobs to the background workers.
type Dispatcher interface {
	Enqueue(ctx context.Context, job mailqueue.Job) (string, error)
}

// IDSource allocates user ids.
type IDSource interface {
	Next() int64
}

// Deps are the collaborators of Service. Mail may be nil, in which case
// emails are logged instead of queued.
type Deps struct {
	Users  UserStore
	Resets ResetTokenStore
	OTPs   OTPManager
	Mail   Dispatcher
	Hasher user.PasswordHasher
	Tokens *TokenSigner
	IDs    IDSource
	Log    *zap.Logger
	Now    func() time.Time
}

type Service struct {
	users  UserStore
	resets ResetTokenStore
	otps   OTPManager
	mail   Dispatcher
	hasher user.PasswordHasher
	tokens *TokenSigner
	ids    IDSource
	log    *zap.Logger
	now    func() time.Time
}

func NewService(d Deps) *Service {
	if d.Hasher == nil {
		d.Hasher = user.BcryptHasher{Cost: user.DefaultCost}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		users:  d.Users,
		resets: d.Resets,
		otps:   d.OTPs,
		mail:   d.Mail,
		hasher: d.Hasher,
		tokens: d.Tokens,
		ids:    d.IDs,
		log:    d.Log.Named("auth"),
		now:    d.Now,
	}
}

// AuthResult is returned by signup and login.
type AuthResult struct {
	Token string      `json:"token"`
	User  entity.View `json:"user"`
}

// OTPStatus describes the code a resend left in place. Fresh is false when
// an already live code was kept.
type OTPStatus struct {
	Entry otp.Entry
	Fresh bool
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	if err := s.ensureEmailFree(ctx, in.Email, 0); err != nil {
		return AuthResult{}, err
	}
	if in.Phone != nil {
		if err := s.ensurePhoneFree(ctx, *in.Phone, 0); err != nil {
			return AuthResult{}, err
		}
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{
		ID:           s.ids.Next(),
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Avatar:       in.Avatar,
		Address:      in.Address,
		Type:         entity.TypeUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return AuthResult{}, storeError("create user", err)
	}
	token, err := s.tokens.Sign(entity.FormatID(u.ID))
	if err != nil {
		return AuthResult{}, err
	}
	s.log.Info("user signed up", zap.Int64("user_id", u.ID), zap.String("email", u.Email))
	welcome := mailqueue.WelcomeJob(entity.FormatID(u.ID), u.Name, u.Email)
	// the first code is cached whether or not the mail goes out
	if e, _, err := s.otps.EnsureLive(ctx, u.Email); err != nil {
		s.log.Warn("issue signup otp", zap.Int64("user_id", u.ID), zap.Error(err))
	} else {
		welcome.OTP = &e
	}
	s.dispatch(ctx, welcome)
	return AuthResult{Token: token, User: entity.Sanitize(u)}, nil
}

// Login does not require a verified email.
func (s *Service) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	u, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return AuthResult{}, storeError("find user", err)
	}
	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		return AuthResult{}, apperr.InvalidCredentials(msgBadCredentials)
	}
	token, err := s.tokens.Sign(entity.FormatID(u.ID))
	if err != nil {
		return AuthResult{}, err
	}
	if s.hasher.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, in.Password)
	}
	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("record last login", zap.Int64("user_id", u.ID), zap.Error(err))
	} else {
		u.LastLoginAt = &now
	}
	return AuthResult{Token: token, User: entity.Sanitize(u)}, nil
}

// rehash upgrades a stored hash after a successful login. Failures are
// logged only.
func (s *Service) rehash(ctx context.Context, id int64, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, id, hash)
	}
	if err != nil {
		s.log.Warn("rehash password", zap.Int64("user_id", id), zap.Error(err))
		return
	}
	s.log.Info("password rehashed", zap.Int64("user_id", id))
}

// Logout only acknowledges; issued tokens stay valid until they expire.
func (s *Service) Logout(ctx context.Context) {
	s.log.Debug("logout acknowledged")
}

func (s *Service) Profile(ctx context.Context, userID string) (entity.View, error) {
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return entity.View{}, err
	}
	return entity.Sanitize(u), nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (entity.View, error) {
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return entity.View{}, err
	}
	if in.Email != nil && !strings.EqualFold(*in.Email, u.Email) {
		if err := s.ensureEmailFree(ctx, *in.Email, u.ID); err != nil {
			return entity.View{}, err
		}
		u.Email = *in.Email
	}
	if in.Phone != nil && (u.Phone == nil || *u.Phone != *in.Phone) {
		if err := s.ensurePhoneFree(ctx, *in.Phone, u.ID); err != nil {
			return entity.View{}, err
		}
		u.Phone = in.Phone
	}
	u.Name = in.Name
	if in.Avatar != nil {
		u.Avatar = in.Avatar
	}
	if err := s.users.Update(ctx, u); err != nil {
		return entity.View{}, storeError("update user", err)
	}
	return entity.Sanitize(u), nil
}

func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(u.PasswordHash, in.OldPassword) {
		return apperr.InvalidCredentials(msgBadOldPassword)
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		return storeError("update password", err)
	}
	s.log.Info("password changed", zap.Int64("user_id", u.ID))
	return nil
}

// ResendOTP keeps a live code as is. Only a newly issued code is mailed.
func (s *Service) ResendOTP(ctx context.Context, userID string) (OTPStatus, error) {
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return OTPStatus{}, err
	}
	if u.EmailVerified() {
		return OTPStatus{}, apperr.AlreadyVerified(msgAlreadyVerified)
	}
	e, fresh, err := s.otps.EnsureLive(ctx, u.Email)
	if err != nil {
		return OTPStatus{}, fmt.Errorf("issue otp: %w", err)
	}
	if fresh {
		s.dispatch(ctx, mailqueue.OTPJob(u.Name, u.Email, e))
	}
	return OTPStatus{Entry: e, Fresh: fresh}, nil
}

// VerifyOTP marks the email verified and consumes the code.
func (s *Service) VerifyOTP(ctx context.Context, userID, code string) (entity.View, error) {
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return entity.View{}, err
	}
	// a replay after success reports Expired, not AlreadyVerified
	e, ok, err := s.otps.Current(ctx, u.Email)
	if err != nil {
		return entity.View{}, fmt.Errorf("read otp: %w", err)
	}
	if !ok || !e.Live(s.now()) {
		return entity.View{}, apperr.Expired(msgOTPExpired)
	}
	if u.EmailVerified() {
		return entity.View{}, apperr.AlreadyVerified(msgAlreadyVerified)
	}
	if subtle.ConstantTimeCompare([]byte(e.Code), []byte(code)) != 1 {
		return entity.View{}, apperr.InvalidCredentials(msgOTPInvalid)
	}
	now := s.now().UTC()
	if err := s.users.MarkEmailVerified(ctx, u.ID, now); err != nil {
		return entity.View{}, storeError("mark email verified", err)
	}
	u.EmailVerifiedAt = &now
	// a leftover entry expires on its own
	if err := s.otps.Consume(ctx, u.Email); err != nil {
		s.log.Warn("consume otp", zap.String("email", u.Email), zap.Error(err))
	}
	s.log.Info("email verified", zap.Int64("user_id", u.ID))
	return entity.Sanitize(u), nil
}

// ForgotPassword replaces the user's reset token and mails the new one.
// The token is never returned to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return storeError("find user", err)
	}
	token, err := newResetToken()
	if err != nil {
		return err
	}
	rt := &authentity.ResetToken{Token: token, UserID: u.ID, ExpiryDate: s.now().Add(ResetTokenTTL).UTC()}
	if err := s.resets.DeleteAllForUser(ctx, u.ID); err != nil {
		return fmt.Errorf("delete reset tokens: %w", err)
	}
	if err := s.resets.Insert(ctx, rt); err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	s.dispatch(ctx, mailqueue.ResetJob(u.Email, token))
	return nil
}

// VerifyResetToken checks a token without consuming it.
func (s *Service) VerifyResetToken(ctx context.Context, token string) error {
	_, ok, err := s.liveResetToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Expired(msgResetTokenDenied)
	}
	return nil
}

// ResetPassword redeems token once and sets the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	rt, ok, err := s.liveResetToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Unauthorized(msgResetTokenDenied)
	}
	u, err := s.users.GetByID(ctx, rt.UserID)
	if err != nil {
		return storeError("find user", err)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		return storeError("update password", err)
	}
	if err := s.resets.DeleteByID(ctx, rt.ID); err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	s.log.Info("password reset", zap.Int64("user_id", u.ID))
	return nil
}

// liveResetToken looks token up and reports whether it is still redeemable.
// An expired row is removed on sight.
func (s *Service) liveResetToken(ctx context.Context, token string) (*authentity.ResetToken, bool, error) {
	rt, err := s.resets.FindByToken(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find reset token: %w", err)
	}
	if !rt.Valid(s.now()) {
		if err := s.resets.DeleteByID(ctx, rt.ID); err != nil {
			s.log.Warn("delete expired reset token", zap.Int64("user_id", rt.UserID), zap.Error(err))
		}
		return nil, false, nil
	}
	return rt, true, nil
}

// Authenticate resolves a session token to its user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	id, err := s.tokens.Parse(token)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnauthorized, msgUnauthorized, err)
	}
	return id, nil
}

func (s *Service) userByID(ctx context.Context, userID string) (*entity.User, error) {
	id, ok := entity.ParseID(userID)
	if !ok {
		return nil, apperr.NotFound(msgUserNotFound)
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("find user", err)
	}
	return u, nil
}

// ensureEmailFree fails when another user than self owns email.
func (s *Service) ensureEmailFree(ctx context.Context, email string, self int64) error {
	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check email: %w", err)
	case u.ID != self:
		return apperr.AlreadyExists(msgEmailTaken)
	}
	return nil
}

func (s *Service) ensurePhoneFree(ctx context.Context, phone string, self int64) error {
	u, err := s.users.GetByPhone(ctx, phone)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check phone: %w", err)
	case u.ID != self:
		return apperr.AlreadyExists(msgPhoneTaken)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, job mailqueue.Job) {
	if s.mail == nil {
		fields := []zap.Field{zap.String("kind", string(job.Kind)), zap.String("to", job.Recipient)}
		if job.ResetToken != "" {
			fields = append(fields, zap.String("reset_token", job.ResetToken))
		}
		if job.OTP != nil {
			fields = append(fields, zap.String("otp", job.OTP.Code))
		}
		s.log.Info("mail queue disabled, email not sent", fields...)
		return
	}
	id, err := s.mail.Enqueue(ctx, job)
	if err != nil {
		s.log.Error("enqueue email", zap.String("kind", string(job.Kind)), zap.String("to", job.Recipient), zap.Error(err))
		return
	}
	s.log.Debug("email queued", zap.String("job_id", id), zap.String("kind", string(job.Kind)))
}

// storeError maps credential store failures to caller-facing kinds.
func storeError(op string, err error) error {
	var ce *database.ConstraintError
	switch {
	case errors.As(err, &ce) && ce.Column == "email":
		return apperr.Wrap(apperr.KindAlreadyExists, msgEmailTaken, err)
	case errors.As(err, &ce) && ce.Column == "phone":
		return apperr.Wrap(apperr.KindAlreadyExists, msgPhoneTaken, err)
	case errors.Is(err, database.ErrNotFound):
		return apperr.NotFound(msgUserNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
