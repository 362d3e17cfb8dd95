package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/codeshare/internal/channel"
	"github.com/michaelbrown/codeshare/internal/config"
	"github.com/michaelbrown/codeshare/internal/identity"
	"github.com/michaelbrown/codeshare/internal/metrics"
	"github.com/michaelbrown/codeshare/internal/relay"
	"github.com/michaelbrown/codeshare/internal/storage"
	"github.com/michaelbrown/codeshare/internal/storage/sqlite"
)

type fixture struct {
	srv   *httptest.Server
	store *sqlite.SQLiteStore
	hub   *relay.Hub
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	hub := relay.NewHub(relay.NewMemoryBroker(), m, nil)
	s := New(cfg, store, hub, m, nil)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{srv: srv, store: store, hub: hub}
}

func (f *fixture) dial(t *testing.T, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	hex8 := regexp.MustCompile(`^[0-9a-f]{8}$`)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		resp, err := http.Post(f.srv.URL+"/create_room", "application/json", nil)
		require.NoError(t, err)
		var body createRoomResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Regexp(t, hex8, body.RoomID)
		assert.False(t, seen[body.RoomID])
		seen[body.RoomID] = true

		_, err = f.store.GetRoom(context.Background(), body.RoomID)
		assert.NoError(t, err)
	}
}

func TestRelayExcludesSender(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	a := f.dial(t, "room1")
	b := f.dial(t, "room1")
	c := f.dial(t, "room2")
	waitFor(t, func() bool { return f.hub.Members("room1") == 2 && f.hub.Members("room2") == 1 })

	frame := `{"type":"edit","content":"hello","sender":"a"}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(frame)))

	b.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, frame, string(data))

	for _, conn := range []*websocket.Conn{a, c} {
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "sender and other rooms receive nothing")
	}
}

func TestJoinRegistersRoomAndEmptyRoomIsRemoved(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	conn := f.dial(t, "fresh")
	waitFor(t, func() bool { return f.hub.Members("fresh") == 1 })

	room, err := f.store.GetRoom(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, room.Joins)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitFor(t, func() bool { return len(f.hub.Rooms()) == 0 })
}

func TestParticipantsSyncThroughRelay(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	ctx := context.Background()

	got := make(chan string, 4)
	alice, err := channel.Open(ctx, channel.Options{Base: f.srv.URL, Room: "pair", Identity: identity.New(), OnEdit: func(s string) { got <- "alice:" + s }})
	require.NoError(t, err)
	defer alice.Close()
	bob, err := channel.Open(ctx, channel.Options{Base: f.srv.URL, Room: "pair", Identity: identity.New(), OnEdit: func(s string) { got <- "bob:" + s }})
	require.NoError(t, err)
	defer bob.Close()
	waitFor(t, func() bool { return f.hub.Members("pair") == 2 })

	alice.Send("print(1)")
	select {
	case s := <-got:
		assert.Equal(t, "bob:print(1)", s)
	case <-time.After(5 * time.Second):
		t.Fatal("bob never received the edit")
	}

	select {
	case s := <-got:
		t.Fatalf("unexpected delivery %q", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomsAPI(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	ctx := context.Background()
	require.NoError(t, f.store.CreateRoom(ctx, &storage.Room{ID: "abc12345"}))
	require.NoError(t, f.store.CreateRoom(ctx, &storage.Room{ID: "abd00000"}))

	f.dial(t, "abc12345")
	waitFor(t, func() bool { return f.hub.Members("abc12345") == 1 })

	resp, err := http.Get(f.srv.URL + "/api/rooms")
	require.NoError(t, err)
	var list []roomView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Len(t, list, 2)

	resp, err = http.Get(f.srv.URL + "/api/rooms/abc")
	require.NoError(t, err)
	var one roomView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	resp.Body.Close()
	assert.Equal(t, "abc12345", one.ID)
	assert.Equal(t, 1, one.Members)

	resp, err = http.Get(f.srv.URL + "/api/rooms/ab")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/api/rooms/zzz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/rooms/abc1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	waitFor(t, func() bool { return f.hub.Members("abc12345") == 0 })

	_, err = f.store.GetRoom(ctx, "abc12345")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRoomsAPIWithoutStore(t *testing.T) {
	hub := relay.NewHub(relay.NewMemoryBroker(), nil, nil)
	defer hub.Close()
	s := New(config.ServerConfig{}, nil, hub, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create_room", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	http.Post(f.srv.URL+"/create_room", "application/json", nil)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "codeshare_rooms_created_total 1")
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	hub := relay.NewHub(relay.NewMemoryBroker(), nil, nil)
	defer hub.Close()
	s := New(config.ServerConfig{StaticDir: dir}, nil, hub, nil, nil)

	tests := []struct {
		path, want string
	}{
		{"/", "<html>app</html>"},
		{"/app.js", "console.log(1)"},
		{"/static/app.js", "console.log(1)"},
		{"/rooms/abc", "<html>app</html>"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, tt.path)
		assert.Equal(t, tt.want, rec.Body.String(), tt.path)
	}

	// API routes are not swallowed by the fallback.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), "ok")
}
