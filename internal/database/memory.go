package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/models"
)

// MemoryDB keeps everything in process. It backs local runs without
// DATABASE_URL and the tests of packages that need a store.
type MemoryDB struct {
	mu sync.RWMutex

	nextUserID    int64
	nextRoomID    int64
	nextMessageID int64

	users        map[int64]*models.User
	usersByEmail map[string]int64
	usernames    map[string]struct{}
	rooms        map[string]int64
	messages     map[int64][]*models.Message
	presence     map[int64]*models.Presence
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:        make(map[int64]*models.User),
		usersByEmail: make(map[string]int64),
		usernames:    make(map[string]struct{}),
		rooms:        make(map[string]int64),
		messages:     make(map[int64][]*models.Message),
		presence:     make(map[int64]*models.Presence),
	}
}

func (db *MemoryDB) Ping(context.Context) error { return nil }

func (db *MemoryDB) Close() error { return nil }

func (db *MemoryDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	id, ok := db.usersByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := *db.users[id]
	return &u, nil
}

func (db *MemoryDB) CreateUser(_ context.Context, username, email, passwordHash string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.usersByEmail[email]; ok {
		return nil, fmt.Errorf("user %s: %w", email, ErrDuplicate)
	}
	if _, ok := db.usernames[username]; ok {
		return nil, fmt.Errorf("user %s: %w", username, ErrDuplicate)
	}

	db.nextUserID++
	u := &models.User{
		ID:           db.nextUserID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	db.users[u.ID] = u
	db.usersByEmail[email] = u.ID
	db.usernames[username] = struct{}{}

	out := *u
	return &out, nil
}

func (db *MemoryDB) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	out.PasswordHash = ""
	return &out, nil
}

func (db *MemoryDB) GetOrCreateRoom(_ context.Context, name string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if id, ok := db.rooms[name]; ok {
		return id, nil
	}
	db.nextRoomID++
	db.rooms[name] = db.nextRoomID
	return db.nextRoomID, nil
}

func (db *MemoryDB) SaveMessage(_ context.Context, userID, roomID int64, content string) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[userID]
	if !ok {
		return nil, fmt.Errorf("failed to save message: user %d: %w", userID, ErrNotFound)
	}

	db.nextMessageID++
	msg := &models.Message{
		ID:        db.nextMessageID,
		UserID:    userID,
		RoomID:    roomID,
		Content:   content,
		Username:  u.Username,
		CreatedAt: time.Now(),
	}
	db.messages[roomID] = append(db.messages[roomID], msg)

	out := *msg
	return &out, nil
}

func (db *MemoryDB) LoadRecentMessages(_ context.Context, roomID int64, limit int) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	all := db.messages[roomID]
	if limit < len(all) {
		all = all[len(all)-limit:]
	}

	out := make([]*models.Message, 0, len(all))
	for _, m := range all {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (db *MemoryDB) GetOrCreatePresence(_ context.Context, userID int64) (*models.Presence, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.presence[userID]
	if !ok {
		p = &models.Presence{UserID: userID, LastSeen: time.Now()}
		db.presence[userID] = p
	}
	out := *p
	return &out, nil
}

func (db *MemoryDB) SetPresence(_ context.Context, userID int64, online bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.presence[userID]
	if !ok {
		p = &models.Presence{UserID: userID, LastSeen: time.Now()}
		db.presence[userID] = p
	}
	p.Online = online
	if !online {
		p.LastSeen = time.Now()
	}
	return nil
}
