// Package storage defines the room registry. Stores hold metadata only;
// document content never leaves the participants.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no room matches an id or prefix.
	ErrNotFound = errors.New("room not found")

	// ErrAmbiguous is returned when a prefix matches more than one room.
	ErrAmbiguous = errors.New("ambiguous room prefix")
)

// Room is the registry entry for a room.
type Room struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastJoinedAt time.Time `json:"last_joined_at"`
	Joins        int       `json:"joins"`
}

// RoomListOptions controls pagination for ListRooms.
type RoomListOptions struct {
	Limit  int
	Offset int
}

// DefaultListLimit applies when RoomListOptions.Limit is not positive.
const DefaultListLimit = 50

// Store is the persistence interface for the room registry.
type Store interface {
	// CreateRoom inserts a new room. The ID field must be set by the caller.
	CreateRoom(ctx context.Context, r *Room) error

	// GetRoom returns a room by ID or ID prefix.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// ListRooms returns rooms ordered by most recent activity.
	ListRooms(ctx context.Context, opts RoomListOptions) ([]Room, error)

	// TouchRoom records a join, registering the room if it is unknown.
	TouchRoom(ctx context.Context, id string) (*Room, error)

	// DeleteRoom removes a room by ID or ID prefix.
	DeleteRoom(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

// EscapeLike escapes LIKE metacharacters so s matches literally; pair it
// with ESCAPE '\'.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// PickPrefixMatch resolves the rows returned by a prefix query.
func PickPrefixMatch(id string, matches []*Room) (*Room, error) {
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w %q matches %d rooms", ErrAmbiguous, id, len(matches))
	}
}
