// Package postgres implements storage.Store on PostgreSQL, for relays that
// run as several instances behind a load balancer.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelbrown/codeshare/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id             TEXT PRIMARY KEY,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_joined_at TIMESTAMPTZ,
    joins          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_rooms_activity ON rooms (GREATEST(created_at, last_joined_at) DESC);
`

// Store implements storage.Store with a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const roomColumns = `id, created_at, last_joined_at, joins`

func (s *Store) CreateRoom(ctx context.Context, r *storage.Room) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, joins) VALUES ($1, $2)
		RETURNING created_at`, r.ID, r.Joins).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*storage.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("querying room: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE id LIKE $1 || '%' ESCAPE '\'`, storage.EscapeLike(id))
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

func (s *Store) ListRooms(ctx context.Context, opts storage.RoomListOptions) ([]storage.Room, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		ORDER BY GREATEST(created_at, last_joined_at) DESC, id
		LIMIT $1 OFFSET $2`, limit, opts.Offset)
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

func (s *Store) TouchRoom(ctx context.Context, id string) (*storage.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, last_joined_at, joins) VALUES ($1, now(), 1)
		ON CONFLICT (id) DO UPDATE SET last_joined_at = now(), joins = rooms.joins + 1
		RETURNING `+roomColumns, id))
	if err != nil {
		return nil, fmt.Errorf("touching room: %w", err)
	}
	return r, nil
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	r, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, r.ID); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRoom(row pgx.Row) (*storage.Room, error) {
	var r storage.Room
	var lastJoined *time.Time
	if err := row.Scan(&r.ID, &r.CreatedAt, &lastJoined, &r.Joins); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if lastJoined != nil {
		r.LastJoinedAt = lastJoined.UTC()
	}
	return &r, nil
}
