package mailqueue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/otp"
)

// Mailer delivers the rendered account emails.
type Mailer interface {
	SendOTP(ctx context.Context, name, to string, e otp.Entry) error
	SendWelcome(ctx context.Context, name, to string, e otp.Entry) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// OTPSource hands out the live verification code for an email.
type OTPSource interface {
	EnsureLive(ctx context.Context, email string) (otp.Entry, bool, error)
}

// MailProcessor routes jobs to the Mailer by kind.
type MailProcessor struct {
	mailer Mailer
	otps   OTPSource
	log    *zap.Logger
}

func NewMailProcessor(mailer Mailer, otps OTPSource, log *zap.Logger) *MailProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailProcessor{mailer: mailer, otps: otps, log: log.Named("mailprocessor")}
}

func (p *MailProcessor) Process(ctx context.Context, job Job) error {
	p.log.Info("processing job", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	switch job.Kind {
	case KindOTPEmail:
		if job.OTP == nil {
			return Permanent(fmt.Errorf("%w: otp missing", ErrInvalidJob))
		}
		if err := p.mailer.SendOTP(ctx, job.Name, job.Recipient, *job.OTP); err != nil {
			return fmt.Errorf("send otp email to %s: %w", job.Recipient, err)
		}
		p.log.Info("otp email sent", zap.String("to", job.Recipient))
	case KindResetEmail:
		if job.ResetToken == "" {
			return Permanent(fmt.Errorf("%w: reset token missing", ErrInvalidJob))
		}
		if err := p.mailer.SendPasswordReset(ctx, job.Recipient, job.ResetToken); err != nil {
			return fmt.Errorf("send reset email to %s: %w", job.Recipient, err)
		}
		p.log.Info("reset password email sent", zap.String("to", job.Recipient))
	case KindWelcomeEmail:
		e, err := p.welcomeOTP(ctx, job)
		if err != nil {
			return err
		}
		if err := p.mailer.SendWelcome(ctx, job.Name, job.Recipient, e); err != nil {
			return fmt.Errorf("send welcome email to %s: %w", job.Recipient, err)
		}
		p.log.Info("welcome email sent", zap.String("to", job.Recipient), zap.String("user_id", job.UserID))
	default:
		return Permanent(fmt.Errorf("%w: %q", ErrUnknownKind, job.Kind))
	}
	return nil
}

// welcomeOTP returns the code signup attached. Jobs without one fall back to
// the live cached code, issuing it only when none exists.
func (p *MailProcessor) welcomeOTP(ctx context.Context, job Job) (otp.Entry, error) {
	if job.OTP != nil {
		return *job.OTP, nil
	}
	e, _, err := p.otps.EnsureLive(ctx, job.Recipient)
	if err != nil {
		return otp.Entry{}, fmt.Errorf("issue welcome otp: %w", err)
	}
	return e, nil
}
