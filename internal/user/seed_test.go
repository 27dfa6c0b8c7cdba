package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

type seedStore struct {
	users map[string]entity.User
}

func (s *seedStore) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &u, nil
}

func (s *seedStore) Create(_ context.Context, u *entity.User) error {
	s.users[u.Email] = *u
	return nil
}

func (s *seedStore) DeleteAll(context.Context) (int64, error) {
	n := int64(len(s.users))
	s.users = map[string]entity.User{}
	return n, nil
}

func TestSeedUsersShape(t *testing.T) {
	users := SeedUsers()
	require.Len(t, users, SeedUserCount+1)
	require.Equal(t, entity.TypeSuperAdmin, users[0].Type)
	require.True(t, users[0].IsSuperAdmin)
	require.Equal(t, "User1", users[1].Name)
	require.Equal(t, "user1@example.com", users[1].Email)
	require.Equal(t, "01500000100", *users[1].Phone)
	require.Equal(t, "01500000149", *users[SeedUserCount].Phone)
}

func TestSeedIsIdempotentAndDrop(t *testing.T) {
	ctx := context.Background()
	store := &seedStore{users: map[string]entity.User{}}
	var id int64
	s := NewSeeder(store, BcryptHasher{Cost: bcrypt.MinCost}, func() int64 { id++; return id }, nil)

	n, err := s.Seed(ctx)
	require.NoError(t, err)
	require.Equal(t, SeedUserCount+1, n)

	admin := store.users[SeedAdminEmail]
	require.True(t, BcryptHasher{}.Verify(admin.PasswordHash, SeedPassword))

	n, err = s.Seed(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	dropped, err := s.Drop(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(SeedUserCount+1), dropped)
	require.Empty(t, store.users)
}
