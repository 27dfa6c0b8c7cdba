package auth

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

const minPasswordLen = 6

var (
	bdPhonePattern = regexp.MustCompile(`^(?:\+?88)?01[3-9]\d{8}$`)
	otpPattern     = regexp.MustCompile(`^\d{4}$`)
)

// SignupInput is the signup request body.
type SignupInput struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone,omitempty"`
	Password string  `json:"password"`
	Avatar   *string `json:"avatar,omitempty"`
	Address  *string `json:"address,omitempty"`
}

func (in *SignupInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if in.Name == "" {
		return apperr.InvalidInput("name is required")
	}
	if err := checkEmail(in.Email); err != nil {
		return err
	}
	if err := checkPhone(in.Phone); err != nil {
		return err
	}
	return checkPassword("password", in.Password)
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *LoginInput) Validate() error {
	in.Email = normalizeEmail(in.Email)
	if err := checkEmail(in.Email); err != nil {
		return err
	}
	if in.Password == "" {
		return apperr.InvalidInput("password is required")
	}
	return nil
}

// ProfileInput replaces the name and, when present, the other fields.
type ProfileInput struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
	Email  *string `json:"email,omitempty"`
	Phone  *string `json:"phone,omitempty"`
}

func (in *ProfileInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.InvalidInput("name is required")
	}
	if in.Email != nil {
		e := normalizeEmail(*in.Email)
		in.Email = &e
		if err := checkEmail(e); err != nil {
			return err
		}
	}
	return checkPhone(in.Phone)
}

type ChangePasswordInput struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (in *ChangePasswordInput) Validate() error {
	if len(in.OldPassword) < minPasswordLen {
		return apperr.InvalidInput("oldPassword must be at least 6 characters")
	}
	return checkPassword("newPassword", in.NewPassword)
}

type VerifyOTPInput struct {
	OTP string `json:"otp"`
}

func (in *VerifyOTPInput) Validate() error {
	if !otpPattern.MatchString(in.OTP) {
		return apperr.InvalidInput("OTP must be a 4-digit number")
	}
	return nil
}

type ForgotPasswordInput struct {
	Email string `json:"email"`
}

func (in *ForgotPasswordInput) Validate() error {
	in.Email = normalizeEmail(in.Email)
	return checkEmail(in.Email)
}

type VerifyResetTokenInput struct {
	ResetToken string `json:"resetToken"`
}

func (in *VerifyResetTokenInput) Validate() error {
	if strings.TrimSpace(in.ResetToken) == "" {
		return apperr.InvalidInput("resetToken is required")
	}
	return nil
}

type ResetPasswordInput struct {
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

func (in *ResetPasswordInput) Validate() error {
	if strings.TrimSpace(in.ResetToken) == "" {
		return apperr.InvalidInput("resetToken is required")
	}
	return checkPassword("newPassword", in.NewPassword)
}

func normalizeEmail(s string) string { return strings.TrimSpace(s) }

func checkEmail(email string) error {
	if email == "" {
		return apperr.InvalidInput("email is required")
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return apperr.InvalidInput("email must be a valid address")
	}
	return nil
}

func checkPhone(phone *string) error {
	if phone == nil {
		return nil
	}
	if !bdPhonePattern.MatchString(*phone) {
		return apperr.InvalidInput("Phone number must be a valid Bangladeshi phone number")
	}
	return nil
}

func checkPassword(field, pw string) error {
	if len(pw) < minPasswordLen {
		return apperr.InvalidInput(field + " must be at least 6 characters")
	}
	if !strings.ContainsFunc(pw, unicode.IsDigit) {
		return apperr.InvalidInput("Password must contain at least one number")
	}
	return nil
}
