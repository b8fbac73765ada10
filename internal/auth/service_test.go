package auth

import (
	"context"
	"testing"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(database.NewMemoryDB(), config.JWTConfig{Secret: "test-secret", ExpiresIn: time.Hour})
}

func register(t *testing.T, s *Service, name string) *models.LoginResponse {
	t.Helper()
	resp, err := s.Register(context.Background(), &models.RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	return resp
}

func TestService_RegisterAndLogin(t *testing.T) {
	s := newTestService(t)
	reg := register(t, s, "alice")
	assert.NotEmpty(t, reg.Token)
	assert.Empty(t, reg.User.PasswordHash)

	resp, err := s.Login(context.Background(), &models.LoginRequest{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, resp.User.ID)

	_, err = s.Login(context.Background(), &models.LoginRequest{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Login(context.Background(), &models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_RegisterValidation(t *testing.T) {
	s := newTestService(t)
	cases := []models.RegisterRequest{
		{Username: "", Email: "a@example.com", Password: "password123"},
		{Username: "bob", Email: "not-an-email", Password: "password123"},
		{Username: "bob", Email: "bob@example.com", Password: "short"},
		{Username: "  b ", Email: "bob@example.com", Password: "password123"},
	}
	for _, req := range cases {
		_, err := s.Register(context.Background(), &req)
		assert.Error(t, err, "request %+v", req)
	}
}

func TestService_Identify(t *testing.T) {
	s := newTestService(t)
	reg := register(t, s, "carol")

	id, err := s.Identify(context.Background(), reg.Token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: reg.User.ID, Username: "carol", Authenticated: true}, id)

	anon, err := s.Identify(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, models.Anonymous(), anon)
	assert.False(t, anon.Authenticated)

	_, err = s.Identify(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_RejectsExpiredAndForeignTokens(t *testing.T) {
	s := newTestService(t)
	reg := register(t, s, "dave")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err := s.ValidateToken(reg.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	s.now = time.Now

	other := NewService(database.NewMemoryDB(), config.JWTConfig{Secret: "other", ExpiresIn: time.Hour})
	_, err = other.ValidateToken(reg.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: reg.User.ID})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_TokenForDeletedUser(t *testing.T) {
	s := newTestService(t)
	token, err := s.GenerateToken(&models.User{ID: 404, Username: "ghost"})
	require.NoError(t, err)

	_, err = s.GetUserFromToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
