package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/reedfamily/mcpanel/internal/db"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(conn))
	s := NewService(conn)
	s.cost = bcrypt.MinCost
	return s
}

func TestEnsureDefaultUserOnce(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.EnsureDefaultUser(ctx, "admin", "admin")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureDefaultUser(ctx, "other", "pw")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.Login(ctx, "other", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginValidateLogout(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, err := s.EnsureDefaultUser(ctx, "admin", "hunter2")
	require.NoError(t, err)

	_, err = s.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := s.Login(ctx, "admin", "hunter2")
	require.NoError(t, err)
	assert.Len(t, token, 64)

	user, err := s.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Username)

	require.NoError(t, s.Logout(ctx, token))
	_, err = s.ValidateSession(ctx, token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = s.ValidateSession(ctx, "")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionExpiry(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, err := s.EnsureDefaultUser(ctx, "admin", "pw")
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, err := s.Login(ctx, "admin", "pw")
	require.NoError(t, err)
	stale, err := s.Login(ctx, "admin", "pw")
	require.NoError(t, err)

	now = now.Add(SessionTTL - time.Hour)
	_, err = s.ValidateSession(ctx, token)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = s.ValidateSession(ctx, token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.ValidateSession(ctx, stale)
	assert.ErrorIs(t, err, ErrSessionExpired)
}
