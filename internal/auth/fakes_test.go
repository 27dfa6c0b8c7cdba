package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	authentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mailqueue"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/otp"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/cache"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// memUsers mimics the users table including its unique constraints.
type memUsers struct {
	mu      sync.Mutex
	byID    map[int64]entity.User
	creates  int
	updates  int
	verifies int
	touches  int
}

func newMemUsers() *memUsers { return &memUsers{byID: map[int64]entity.User{}} }

func (m *memUsers) conflict(u *entity.User) error {
	for id, other := range m.byID {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return &database.ConstraintError{Constraint: "users_email_key", Column: "email"}
		}
		if u.Phone != nil && other.Phone != nil && *u.Phone == *other.Phone {
			return &database.ConstraintError{Constraint: "users_phone_key", Column: "phone"}
		}
	}
	return nil
}

func (m *memUsers) Create(_ context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.conflict(u); err != nil {
		return err
	}
	m.creates++
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) find(match func(entity.User) bool) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			cp := u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	return m.find(func(u entity.User) bool { return strings.EqualFold(u.Email, email) })
}

func (m *memUsers) GetByPhone(_ context.Context, phone string) (*entity.User, error) {
	return m.find(func(u entity.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*entity.User, error) {
	return m.find(func(u entity.User) bool { return u.ID == id })
}

func (m *memUsers) Update(_ context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.ID]; !ok {
		return database.ErrNotFound
	}
	if err := m.conflict(u); err != nil {
		return err
	}
	m.updates++
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return database.ErrNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

func (m *memUsers) MarkEmailVerified(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return database.ErrNotFound
	}
	m.verifies++
	u.EmailVerifiedAt = &at
	m.byID[id] = u
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return database.ErrNotFound
	}
	m.touches++
	u.LastLoginAt = &at
	m.byID[id] = u
	return nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memResets struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]authentity.ResetToken
}

func newMemResets() *memResets { return &memResets{rows: map[int64]authentity.ResetToken{}} }

func (m *memResets) DeleteAllForUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.rows {
		if t.UserID == userID {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *memResets) Insert(_ context.Context, t *authentity.ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = time.Now().UTC()
	m.rows[t.ID] = *t
	return nil
}

func (m *memResets) FindByToken(_ context.Context, token string) (*authentity.ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.Token == token {
			cp := t
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memResets) DeleteByID(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memResets) forUser(userID int64) []authentity.ResetToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []authentity.ResetToken
	for _, t := range m.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []mailqueue.Job
}

func (d *recordingDispatcher) Enqueue(_ context.Context, job mailqueue.Job) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return utilities.NewKSUID(), nil
}

func (d *recordingDispatcher) ofKind(k mailqueue.Kind) []mailqueue.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []mailqueue.Job
	for _, j := range d.jobs {
		if j.Kind == k {
			out = append(out, j)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc    *Service
	users  *memUsers
	resets *memResets
	mail   *recordingDispatcher
	otps   *otp.Manager
	mr     *miniredis.Miniredis
	clock  *clock
	tokens *TokenSigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := &clock{t: time.Now().UTC()}
	otps := otp.NewManager(cache.NewRedisCache(client)).WithClock(clk.Now)
	ids, err := utilities.NewIDGenerator(1)
	require.NoError(t, err)
	tokens, err := NewTokenSigner("test-secret", time.Hour)
	require.NoError(t, err)

	f := &fixture{
		users:  newMemUsers(),
		resets: newMemResets(),
		mail:   &recordingDispatcher{},
		otps:   otps,
		mr:     mr,
		clock:  clk,
		tokens: tokens,
	}
	f.svc = NewService(Deps{
		Users:  f.users,
		Resets: f.resets,
		OTPs:   otps,
		Mail:   f.mail,
		Hasher: user.BcryptHasher{Cost: bcrypt.MinCost},
		Tokens: tokens,
		IDs:    ids,
		Now:    clk.Now,
	})
	return f
}

func (f *fixture) signup(t *testing.T, email, phone, password string) AuthResult {
	t.Helper()
	in := SignupInput{Name: "Asha", Email: email, Password: password}
	if phone != "" {
		in.Phone = &phone
	}
	require.NoError(t, in.Validate())
	res, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)
	return res
}
