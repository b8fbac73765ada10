package database

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS rooms (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	room_id    BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at DESC);
CREATE TABLE IF NOT EXISTS user_presence (
	user_id   BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	is_online BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate creates the relay tables when they are missing.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// User Repository Implementation
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, email, created_at`

	user := &models.User{PasswordHash: passwordHash}
	err := db.pool.QueryRow(ctx, query, username, email, passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("user %s: %w", email, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, username, email, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return user, nil
}

// Room Repository Implementation
func (db *PostgresDB) GetOrCreateRoom(ctx context.Context, name string) (int64, error) {
	query := `
		INSERT INTO rooms (name, created_at) VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
		RETURNING id`

	var roomID int64
	if err := db.pool.QueryRow(ctx, query, name).Scan(&roomID); err != nil {
		return 0, fmt.Errorf("failed to get or create room: %w", err)
	}
	return roomID, nil
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, userID, roomID int64, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (user_id, room_id, content, created_at) VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`

	msg := &models.Message{UserID: userID, RoomID: roomID, Content: content}
	if err := db.pool.QueryRow(ctx, query, userID, roomID, content).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

func (db *PostgresDB) LoadRecentMessages(ctx context.Context, roomID int64, limit int) ([]*models.Message, error) {
	query := `
		SELECT m.id, m.user_id, m.room_id, m.content, u.username, m.created_at
		FROM messages m
		JOIN users u ON m.user_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.RoomID, &msg.Content, &msg.Username, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Presence Repository Implementation
func (db *PostgresDB) GetOrCreatePresence(ctx context.Context, userID int64) (*models.Presence, error) {
	query := `
		INSERT INTO user_presence (user_id, is_online, last_seen) VALUES ($1, FALSE, NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, is_online, last_seen`

	p := &models.Presence{}
	if err := db.pool.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.Online, &p.LastSeen); err != nil {
		return nil, fmt.Errorf("failed to load presence: %w", err)
	}
	return p, nil
}

func (db *PostgresDB) SetPresence(ctx context.Context, userID int64, online bool) error {
	query := `
		INSERT INTO user_presence (user_id, is_online, last_seen) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			is_online = EXCLUDED.is_online,
			last_seen = CASE WHEN EXCLUDED.is_online THEN user_presence.last_seen ELSE NOW() END`

	if _, err := db.pool.Exec(ctx, query, userID, online); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}
