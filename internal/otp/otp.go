// Package otp issues and consumes the short-lived email verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// Digits is the length of a verification code.
	Digits = 4
	// TTL is how long a code stays valid in the cache.
	TTL = 3 * time.Minute

	keyPrefix = "otp:"
)

// Entry is the cached OTP for one email address.
type Entry struct {
	Code      string    `json:"otp"`
	ValidTill time.Time `json:"validTill"`
}

// Live reports whether the entry is still valid at now.
func (e Entry) Live(now time.Time) bool { return e.ValidTill.After(now) }

// Key returns the cache key for email.
func Key(email string) string { return keyPrefix + email }

// Cache is the subset of the key-value cache the manager relies on.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Generate returns a numeric code of the given length.
func Generate(digits int) (string, error) {
	buf := make([]byte, digits)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// Manager keeps at most one live code per email in the cache.
type Manager struct {
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(cache Cache) *Manager {
	return &Manager{cache: cache, ttl: TTL, now: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Current returns the cached entry for email, if any.
func (m *Manager) Current(ctx context.Context, email string) (Entry, bool, error) {
	var e Entry
	ok, err := m.cache.Get(ctx, Key(email), &e)
	if err != nil {
		return Entry{}, false, err
	}
	return e, ok, nil
}

// Issue generates a fresh code for email, replacing any existing one.
func (m *Manager) Issue(ctx context.Context, email string) (Entry, error) {
	code, err := Generate(Digits)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Code: code, ValidTill: m.now().Add(m.ttl).UTC()}
	if err := m.cache.Set(ctx, Key(email), e, m.ttl); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// EnsureLive returns the live entry for email unchanged, or issues a fresh
// one. fresh is true when a new code was generated.
func (m *Manager) EnsureLive(ctx context.Context, email string) (e Entry, fresh bool, err error) {
	cur, ok, err := m.Current(ctx, email)
	if err != nil {
		return Entry{}, false, err
	}
	if ok && cur.Live(m.now()) {
		return cur, false, nil
	}
	e, err = m.Issue(ctx, email)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Consume removes the entry for email.
func (m *Manager) Consume(ctx context.Context, email string) error {
	return m.cache.Delete(ctx, Key(email))
}
