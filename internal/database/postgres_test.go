package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewPostgresDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestPostgresDB_MessageRoundTrip(t *testing.T) {
	db := newTestPostgres(t)
	ctx := context.Background()
	suffix := time.Now().UnixNano()

	u, err := db.CreateUser(ctx, fmt.Sprintf("pg-%d", suffix), fmt.Sprintf("pg-%d@example.com", suffix), "h")
	require.NoError(t, err)

	_, err = db.CreateUser(ctx, fmt.Sprintf("pg-%d", suffix), fmt.Sprintf("pg-%d@example.com", suffix), "h")
	assert.ErrorIs(t, err, ErrDuplicate)

	room, err := db.GetOrCreateRoom(ctx, fmt.Sprintf("room-%d", suffix))
	require.NoError(t, err)

	_, err = db.SaveMessage(ctx, u.ID, room, "first")
	require.NoError(t, err)
	_, err = db.SaveMessage(ctx, u.ID, room, "second")
	require.NoError(t, err)

	msgs, err := db.LoadRecentMessages(ctx, room, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, u.Username, msgs[1].Username)
}

func TestPostgresDB_Presence(t *testing.T) {
	db := newTestPostgres(t)
	ctx := context.Background()
	suffix := time.Now().UnixNano()

	u, err := db.CreateUser(ctx, fmt.Sprintf("pres-%d", suffix), fmt.Sprintf("pres-%d@example.com", suffix), "h")
	require.NoError(t, err)

	p, err := db.GetOrCreatePresence(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, p.Online)

	require.NoError(t, db.SetPresence(ctx, u.ID, true))
	require.NoError(t, db.SetPresence(ctx, u.ID, false))

	after, err := db.GetOrCreatePresence(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, after.Online)
	assert.False(t, after.LastSeen.Before(p.LastSeen))

	_, err = db.GetUserByID(ctx, -1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDB_WrapsQueryErrors(t *testing.T) {
	db := newTestPostgres(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := db.GetOrCreateRoom(ctx, "general")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "failed to get or create room")

	_, err = db.LoadRecentMessages(ctx, 1, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "failed to load recent messages")
}
