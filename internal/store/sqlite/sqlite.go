package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/chatrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_guest      BOOLEAN NOT NULL DEFAULT 0,
	session_id    TEXT,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_name  TEXT NOT NULL,
	username   TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_name, id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, is_guest)
		VALUES (?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *SQLiteStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, is_guest, session_id)
		VALUES (?, '', 1, ?)
	`
	guestUsername := "guest_" + sessionID[:8]

	result, err := s.db.ExecContext(ctx, query, guestUsername, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a registered user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE username = ? AND is_guest = 0
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== MessageStore implementation ====

// AppendMessage persists a message with a server-assigned timestamp and id.
func (s *SQLiteStore) AppendMessage(ctx context.Context, room, username, content string) (*store.Message, error) {
	query := `
		INSERT INTO messages (room_name, username, content, created_at)
		VALUES (?, ?, ?, ?)
	`
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, query, room, username, content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &store.Message{
		ID:        id,
		Room:      room,
		Username:  username,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// ListMessages returns a room's messages in ascending (created_at, id) order.
// When limit > 0, only the most recent limit messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, room string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, room_name, username, content, created_at
		FROM messages
		WHERE room_name = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []any{room}

	if limit > 0 {
		query = `
		SELECT id, room_name, username, content, created_at
		FROM (
			SELECT id, room_name, username, content, created_at
			FROM messages
			WHERE room_name = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Room,
			&msg.Username,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
