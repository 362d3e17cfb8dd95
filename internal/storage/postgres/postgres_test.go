package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/michaelbrown/codeshare/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// uniqueID keeps runs against a shared database apart.
func uniqueID(t *testing.T) string {
	t.Helper()
	id := "t" + uuid.NewString()[:8]
	t.Cleanup(func() {
		// best effort
		s, err := Open(context.Background(), os.Getenv("DATABASE_URL"))
		if err == nil {
			s.pool.Exec(context.Background(), `DELETE FROM rooms WHERE id LIKE $1 || '%'`, id)
			s.Close()
		}
	})
	return id
}

func TestRoomLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uniqueID(t)

	if err := s.CreateRoom(ctx, &storage.Room{ID: id}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	got, err := s.GetRoom(ctx, id[:5])
	if err != nil {
		t.Fatalf("GetRoom by prefix: %v", err)
	}
	if got.ID != id || got.CreatedAt.IsZero() || !got.LastJoinedAt.IsZero() {
		t.Errorf("unexpected room %+v", got)
	}

	touched, err := s.TouchRoom(ctx, id)
	if err != nil {
		t.Fatalf("TouchRoom: %v", err)
	}
	if touched.Joins != 1 || touched.LastJoinedAt.IsZero() {
		t.Errorf("after touch: %+v", touched)
	}

	if err := s.DeleteRoom(ctx, id); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if _, err := s.GetRoom(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTouchRegistersUnknownRoom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uniqueID(t)

	r, err := s.TouchRoom(ctx, id)
	if err != nil {
		t.Fatalf("TouchRoom: %v", err)
	}
	if r.Joins != 1 {
		t.Errorf("joins = %d, want 1", r.Joins)
	}
}

func TestAmbiguousPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uniqueID(t)

	for _, suffix := range []string{"a", "b"} {
		if err := s.CreateRoom(ctx, &storage.Room{ID: id + suffix}); err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
	}
	if _, err := s.GetRoom(ctx, id); !errors.Is(err, storage.ErrAmbiguous) {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
}
