package user

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

const (
	SeedPassword   = "123456"
	SeedAdminEmail = "admin@example.com"
	SeedAdminPhone = "01500000000"
	SeedUserCount  = 50
)

// SeedStore is the part of the user repository the seeder needs.
type SeedStore interface {
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) error
	DeleteAll(ctx context.Context) (int64, error)
}

// Seeder fills an empty database with a super admin and demo users.
type Seeder struct {
	store  SeedStore
	hasher PasswordHasher
	nextID func() int64
	log    *zap.Logger
}

func NewSeeder(store SeedStore, hasher PasswordHasher, nextID func() int64, log *zap.Logger) *Seeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Seeder{store: store, hasher: hasher, nextID: nextID, log: log}
}

// SeedUsers returns the accounts Seed creates, without ids or hashes.
func SeedUsers() []entity.User {
	admin := SeedAdminPhone
	out := []entity.User{{
		Name:         "Super Admin",
		Email:        SeedAdminEmail,
		Phone:        &admin,
		IsSuperAdmin: true,
		Type:         entity.TypeSuperAdmin,
	}}
	for i := 0; i < SeedUserCount; i++ {
		suffix := fmt.Sprintf("%d", 100+i)
		phone := "01500000" + suffix[len(suffix)-3:]
		out = append(out, entity.User{
			Name:  fmt.Sprintf("User%d", i+1),
			Email: fmt.Sprintf("user%d@example.com", i+1),
			Phone: &phone,
			Type:  entity.TypeUser,
		})
	}
	return out
}

// Seed creates every seed account whose email is not taken yet and reports
// how many were created.
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	created := 0
	for _, u := range SeedUsers() {
		_, err := s.store.GetByEmail(ctx, u.Email)
		if err == nil {
			s.log.Debug("seed user exists", zap.String("email", u.Email))
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return created, fmt.Errorf("check %s: %w", u.Email, err)
		}
		hash, err := s.hasher.Hash(SeedPassword)
		if err != nil {
			return created, fmt.Errorf("hash password: %w", err)
		}
		u.ID = s.nextID()
		u.PasswordHash = hash
		if err := s.store.Create(ctx, &u); err != nil {
			return created, fmt.Errorf("create %s: %w", u.Email, err)
		}
		created++
	}
	s.log.Info("seed complete", zap.Int("created", created))
	return created, nil
}

// Drop deletes all users.
func (s *Seeder) Drop(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("drop users: %w", err)
	}
	s.log.Info("users dropped", zap.Int64("deleted", n))
	return n, nil
}
