package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/michaelbrown/codeshare/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRoom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	r := &storage.Room{ID: "deadbeef"}
	if err := s.CreateRoom(ctx, r); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	got, err := s.GetRoom(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.ID != "deadbeef" {
		t.Errorf("id = %q, want %q", got.ID, "deadbeef")
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
	if !got.LastJoinedAt.IsZero() {
		t.Errorf("last_joined_at = %v, want zero", got.LastJoinedAt)
	}
	if got.Joins != 0 {
		t.Errorf("joins = %d, want 0", got.Joins)
	}
}

func TestCreateDuplicateRoom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, &storage.Room{ID: "abc"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.CreateRoom(ctx, &storage.Room{ID: "abc"}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestGetRoomByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, &storage.Room{ID: "abc12345"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	got, err := s.GetRoom(ctx, "abc1")
	if err != nil {
		t.Fatalf("GetRoom by prefix: %v", err)
	}
	if got.ID != "abc12345" {
		t.Errorf("got ID %q, want %q", got.ID, "abc12345")
	}
}

func TestGetRoomAmbiguousPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"abc00001", "abc00002"} {
		if err := s.CreateRoom(ctx, &storage.Room{ID: id}); err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
	}

	_, err := s.GetRoom(ctx, "abc")
	if !errors.Is(err, storage.ErrAmbiguous) {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}

	// An exact id wins even when it is also a prefix of another.
	if err := s.CreateRoom(ctx, &storage.Room{ID: "abc"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	got, err := s.GetRoom(ctx, "abc")
	if err != nil || got.ID != "abc" {
		t.Fatalf("GetRoom exact = %v, %v", got, err)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetRoom(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPrefixIsLiteral(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, &storage.Room{ID: "abc"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.GetRoom(ctx, "%"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRoom(ctx, "a_c"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTouchRoom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Unknown rooms are registered on first join.
	r, err := s.TouchRoom(ctx, "fresh")
	if err != nil {
		t.Fatalf("TouchRoom: %v", err)
	}
	if r.Joins != 1 || r.LastJoinedAt.IsZero() {
		t.Errorf("after first touch: %+v", r)
	}

	r, err = s.TouchRoom(ctx, "fresh")
	if err != nil {
		t.Fatalf("TouchRoom: %v", err)
	}
	if r.Joins != 2 {
		t.Errorf("joins = %d, want 2", r.Joins)
	}
}

func TestListRooms(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "b2", "c3"} {
		if err := s.CreateRoom(ctx, &storage.Room{ID: id}); err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
	}

	rooms, err := s.ListRooms(ctx, storage.RoomListOptions{})
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("got %d rooms, want 3", len(rooms))
	}

	page, err := s.ListRooms(ctx, storage.RoomListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("got %d rooms on second page, want 1", len(page))
	}
}

func TestDeleteRoom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, &storage.Room{ID: "gone1234"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.DeleteRoom(ctx, "gone"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if _, err := s.GetRoom(ctx, "gone1234"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteRoom(ctx, "gone"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestReopenKeepsRooms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rooms.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.CreateRoom(ctx, &storage.Room{ID: "persist"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetRoom(ctx, "persist"); err != nil {
		t.Fatalf("GetRoom after reopen: %v", err)
	}
}
