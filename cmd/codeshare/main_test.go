package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/codeshare/internal/protocol"
	"github.com/michaelbrown/codeshare/internal/storage"
	"github.com/michaelbrown/codeshare/internal/storage/sqlite"
)

func TestLanguageFor(t *testing.T) {
	tests := []struct {
		path, name string
		want       protocol.Language
		wantErr    bool
	}{
		{path: "a.js", want: protocol.JavaScript},
		{path: "a.mjs", want: protocol.JavaScript},
		{path: "dir/b.py", want: protocol.Python},
		{path: "notes.txt", name: "python", want: protocol.Python},
		{path: "a.js", name: "py", want: protocol.Python},
		{path: "notes.txt", wantErr: true},
		{path: "a.js", name: "ruby", wantErr: true},
	}
	for _, tt := range tests {
		got, err := languageFor(tt.path, tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, lineCount(""))
	assert.Equal(t, 1, lineCount("x"))
	assert.Equal(t, 1, lineCount("x\n"))
	assert.Equal(t, 3, lineCount("a\nb\nc"))
}

func TestStoreRegistry(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	reg := storeRegistry{store: store}
	defer reg.close()

	ctx := context.Background()
	require.NoError(t, store.CreateRoom(ctx, &storage.Room{ID: "abcd1234"}))

	rooms, err := reg.list(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, -1, rooms[0].Members)
	assert.Equal(t, "-", liveCount(rooms[0].Members))

	room, err := reg.get(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", room.ID)

	require.NoError(t, reg.remove(ctx, room.ID))
	_, err = reg.get(ctx, "abcd1234")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
