// Package mail renders and delivers the account emails.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/otp"
)

//go:embed templates/*.html
var templateFS embed.FS

// Config holds SMTP settings.
type Config struct {
	Host        string `env:"MAIL_HOST" envDefault:"sandbox.smtp.mailtrap.io"`
	Port        int    `env:"MAIL_PORT" envDefault:"587"`
	User        string `env:"MAIL_USER"`
	Pass        string `env:"MAIL_PASS"`
	FromName    string `env:"MAIL_FROM_NAME" envDefault:"Bakir Khata"`
	FromAddress string `env:"MAIL_FROM_ADDRESS" envDefault:"no-reply@example.com"`
}

// Sender delivers a rendered HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SMTPSender sends through an SMTP relay.
type SMTPSender struct {
	client   *gomail.Client
	fromName string
	fromAddr string
}

func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
	}
	if cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.User),
			gomail.WithPassword(cfg.Pass),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{client: client, fromName: cfg.FromName, fromAddr: cfg.FromAddress}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromAddr); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, html)
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Mailer renders the account templates and hands them to a Sender.
type Mailer struct {
	sender      Sender
	tmpl        *template.Template
	appName     string
	frontendURL string
}

func NewMailer(sender Sender, appName, frontendURL string) (*Mailer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Mailer{sender: sender, tmpl: tmpl, appName: appName, frontendURL: frontendURL}, nil
}

func (m *Mailer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

type otpData struct {
	AppName     string
	Name        string
	Email       string
	OTP         string
	ValidTill   string
	FrontendURL string
}

func (m *Mailer) otpData(name, email string, e otp.Entry) otpData {
	return otpData{
		AppName:     m.appName,
		Name:        name,
		Email:       email,
		OTP:         e.Code,
		ValidTill:   e.ValidTill.Format(time.RFC1123),
		FrontendURL: m.frontendURL,
	}
}

// SendOTP delivers a verification code.
func (m *Mailer) SendOTP(ctx context.Context, name, to string, e otp.Entry) error {
	body, err := m.render("otp-mail.html", m.otpData(name, to, e))
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, fmt.Sprintf("Welcome %s, Your Verification Code is Here!", name), body)
}

// SendWelcome delivers the post-signup greeting with the first verification code.
func (m *Mailer) SendWelcome(ctx context.Context, name, to string, e otp.Entry) error {
	body, err := m.render("welcome-mail.html", m.otpData(name, to, e))
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, fmt.Sprintf("Welcome to %s! Your New Account Details", m.appName), body)
}

// SendPasswordReset delivers the reset link for token.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	body, err := m.render("reset-mail.html", struct {
		AppName   string
		ResetLink string
	}{AppName: m.appName, ResetLink: ResetLink(m.frontendURL, token)})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, "Password Reset Request", body)
}

// ResetLink builds the frontend URL carrying token.
func ResetLink(frontendURL, token string) string {
	return frontendURL + "/reset-password?token=" + url.QueryEscape(token)
}
