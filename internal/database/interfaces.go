package database

import (
	"context"
	"errors"

	"chat-relay/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type RoomRepository interface {
	GetOrCreateRoom(ctx context.Context, name string) (int64, error)
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, userID, roomID int64, content string) (*models.Message, error)
	LoadRecentMessages(ctx context.Context, roomID int64, limit int) ([]*models.Message, error)
}

// PresenceRepository persists the online flag. SetPresence advances
// last_seen when a user goes offline.
type PresenceRepository interface {
	GetOrCreatePresence(ctx context.Context, userID int64) (*models.Presence, error)
	SetPresence(ctx context.Context, userID int64, online bool) error
}

type Database interface {
	UserRepository
	RoomRepository
	MessageRepository
	PresenceRepository
	Ping(ctx context.Context) error
	Close() error
}
