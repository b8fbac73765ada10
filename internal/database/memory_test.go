package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDB_Users(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	u, err := db.CreateUser(ctx, "alice", "alice@example.com", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)

	_, err = db.CreateUser(ctx, "alice2", "alice@example.com", "hash")
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = db.CreateUser(ctx, "alice", "other@example.com", "hash")
	assert.ErrorIs(t, err, ErrDuplicate)

	byEmail, err := db.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", byEmail.PasswordHash)

	byID, err := db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.Empty(t, byID.PasswordHash)

	_, err = db.GetUserByID(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDB_RoomsAreStable(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	a, err := db.GetOrCreateRoom(ctx, "general")
	require.NoError(t, err)
	b, err := db.GetOrCreateRoom(ctx, "random")
	require.NoError(t, err)
	again, err := db.GetOrCreateRoom(ctx, "general")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
}

func TestMemoryDB_RecentMessagesOldestFirst(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()
	u, err := db.CreateUser(ctx, "bob", "bob@example.com", "h")
	require.NoError(t, err)
	room, err := db.GetOrCreateRoom(ctx, "general")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := db.SaveMessage(ctx, u.ID, room, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	msgs, err := db.LoadRecentMessages(ctx, room, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)
	assert.Equal(t, "m4", msgs[2].Content)
	assert.Equal(t, "bob", msgs[0].Username)

	_, err = db.SaveMessage(ctx, 42, room, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDB_Presence(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	p, err := db.GetOrCreatePresence(ctx, 5)
	require.NoError(t, err)
	assert.False(t, p.Online)
	first := p.LastSeen

	require.NoError(t, db.SetPresence(ctx, 5, true))
	p, err = db.GetOrCreatePresence(ctx, 5)
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.Equal(t, first, p.LastSeen)

	require.NoError(t, db.SetPresence(ctx, 5, false))
	p, err = db.GetOrCreatePresence(ctx, 5)
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.False(t, p.LastSeen.Before(first))
}
