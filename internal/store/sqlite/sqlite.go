package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quizarena/roomsync/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_state (
	room_id    TEXT PRIMARY KEY,
	state      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store on a local SQLite file, giving
// several processes on one machine a shared rendezvous for the polling
// fallback.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a SQLite store at dbPath and ensures the schema exists.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a SQLite store and runs a setup function.
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

// GetRoomState returns the serialized state blob for a room.
func (s *SQLiteStore) GetRoomState(ctx context.Context, roomID string) ([]byte, error) {
	query := `SELECT state FROM room_state WHERE room_id = ?`

	var state []byte
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room state: %w", err)
	}
	return state, nil
}

// PutRoomState replaces the serialized state blob for a room.
func (s *SQLiteStore) PutRoomState(ctx context.Context, roomID string, state []byte) error {
	query := `
		INSERT INTO room_state (room_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, state); err != nil {
		return fmt.Errorf("upsert room state: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
