package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/codeshare/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each connection to ":memory:" is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const roomColumns = `id, created_at, last_joined_at, joins`

func (s *SQLiteStore) CreateRoom(ctx context.Context, r *storage.Room) error {
	r.CreatedAt = time.Now().UTC().Truncate(time.Second)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, created_at, last_joined_at, joins)
		VALUES (?, ?, '', ?)`,
		r.ID, r.CreatedAt.Format(time.RFC3339), r.Joins,
	)
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*storage.Room, error) {
	// Try exact match first, then prefix match
	r, err := s.getRoomExact(ctx, id)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying room: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+`
		FROM rooms WHERE id LIKE ? || '%' ESCAPE '\'`, storage.EscapeLike(id))
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return storage.PickPrefixMatch(id, matches)
}

func (s *SQLiteStore) getRoomExact(ctx context.Context, id string) (*storage.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	return scanRoom(row)
}

func (s *SQLiteStore) ListRooms(ctx context.Context, opts storage.RoomListOptions) ([]storage.Room, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM rooms
		ORDER BY MAX(created_at, last_joined_at) DESC, id
		LIMIT ? OFFSET ?`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var rooms []storage.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func (s *SQLiteStore) TouchRoom(ctx context.Context, id string) (*storage.Room, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, created_at, last_joined_at, joins) VALUES (?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET last_joined_at = excluded.last_joined_at, joins = joins + 1`,
		id, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("touching room: %w", err)
	}
	return s.getRoomExact(ctx, id)
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	// Resolve prefix first
	r, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (*storage.Room, error) {
	var r storage.Room
	var createdAt, lastJoinedAt string
	if err := s.Scan(&r.ID, &createdAt, &lastJoinedAt, &r.Joins); err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastJoinedAt != "" {
		r.LastJoinedAt, _ = time.Parse(time.RFC3339, lastJoinedAt)
	}
	return &r, nil
}
