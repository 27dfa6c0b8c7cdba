// Package mailqueue moves email delivery off the request path: producers
// enqueue typed jobs, a bounded pool of workers drains them.
package mailqueue

import (
	"errors"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/otp"
)

// Kind names what a job delivers.
type Kind string

const (
	KindOTPEmail     Kind = "send-otp-email"
	KindResetEmail   Kind = "send-reset-email"
	KindWelcomeEmail Kind = "send-welcome-email"
)

// Job is one unit of email work.
type Job struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Recipient  string     `json:"recipient"`
	Name       string     `json:"name,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	OTP        *otp.Entry `json:"otp,omitempty"`
	ResetToken string     `json:"resetToken,omitempty"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`

	// raw is the encoded entry a backend claimed, used to acknowledge it.
	raw string
}

// OTPJob builds a send-otp-email job.
func OTPJob(name, email string, e otp.Entry) Job {
	return Job{Kind: KindOTPEmail, Recipient: email, Name: name, OTP: &e}
}

// ResetJob builds a send-reset-email job.
func ResetJob(email, token string) Job {
	return Job{Kind: KindResetEmail, Recipient: email, ResetToken: token}
}

// WelcomeJob is the user-created message. The producer attaches the first
// verification code as OTP when it could issue one.
func WelcomeJob(userID, name, email string) Job {
	return Job{Kind: KindWelcomeEmail, Recipient: email, Name: name, UserID: userID}
}

var (
	ErrQueueFull   = errors.New("mail queue full")
	ErrUnknownKind = errors.New("unknown job kind")
	ErrInvalidJob  = errors.New("invalid job payload")
)

// EventType is a job lifecycle transition.
type EventType string

const (
	EventAdded     EventType = "added"
	EventActive    EventType = "active"
	EventRetrying  EventType = "retrying"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is emitted for observability only.
type Event struct {
	Type    EventType
	Job     Job
	Attempt int
	Err     error
}

// Observer receives lifecycle events. It must not block.
type Observer func(Event)
