package channel

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/codeshare/internal/identity"
	"github.com/michaelbrown/codeshare/internal/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// relayStub upgrades /ws/{room} and hands each connection to serve.
func relayStub(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type edits struct {
	mu  sync.Mutex
	got []string
	ch  chan string
}

func newEdits() *edits { return &edits{ch: make(chan string, 16)} }

func (e *edits) add(s string) {
	e.mu.Lock()
	e.got = append(e.got, s)
	e.mu.Unlock()
	e.ch <- s
}

func (e *edits) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-e.ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for edit")
		return ""
	}
}

func frame(t *testing.T, content, sender string) []byte {
	t.Helper()
	data, err := protocol.Edit{Type: protocol.TypeEdit, Content: content, Sender: sender}.Encode()
	require.NoError(t, err)
	return data
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base, room, want string
	}{
		{"http://localhost:8000", "abc", "ws://localhost:8000/ws/abc"},
		{"https://example.com/", "abc", "wss://example.com/ws/abc"},
		{"https://example.com/relay", "r1", "wss://example.com/relay/ws/r1"},
		{"ws://10.0.0.2:9000", "r", "ws://10.0.0.2:9000/ws/r"},
		{"wss://example.com?x=1", "r", "wss://example.com/ws/r"},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(tt.base, tt.room)
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}

	_, err := WebSocketURL("ftp://example.com", "r")
	assert.Error(t, err)
	_, err = WebSocketURL("http://example.com", "")
	assert.Error(t, err)
}

func TestSendTagsIdentity(t *testing.T) {
	received := make(chan []byte, 1)
	srv := relayStub(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
	})

	me := identity.New()
	c, err := Open(context.Background(), Options{Base: srv.URL, Room: "r1", Identity: me})
	require.NoError(t, err)
	defer c.Close()

	c.Send("hello")

	select {
	case data := <-received:
		edit, err := protocol.DecodeEdit(data)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeEdit, edit.Type)
		assert.Equal(t, "hello", edit.Content)
		assert.True(t, edit.From(me))
	case <-time.After(5 * time.Second):
		t.Fatal("relay never received the edit")
	}
}

func TestInboundFiltering(t *testing.T) {
	me := identity.New()
	srv := relayStub(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteMessage(websocket.TextMessage, frame(t, "mine", me.String()))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"run_js","code":"1"}`))
		conn.WriteMessage(websocket.TextMessage, frame(t, "theirs", "someone-else"))
		conn.WriteMessage(websocket.TextMessage, frame(t, "", "someone-else"))
		conn.ReadMessage()
	})

	got := newEdits()
	c, err := Open(context.Background(), Options{Base: srv.URL, Room: "r1", Identity: me, OnEdit: got.add})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "theirs", got.next(t))
	assert.Equal(t, "", got.next(t))

	got.mu.Lock()
	assert.Equal(t, []string{"theirs", ""}, got.got)
	got.mu.Unlock()
}

func TestCloseStopsDelivery(t *testing.T) {
	stop := make(chan struct{})
	srv := relayStub(t, func(conn *websocket.Conn) {
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
				if err := conn.WriteMessage(websocket.TextMessage, frame(t, "tick", "other")); err != nil {
					return
				}
			}
		}
	})
	defer close(stop)

	var mu sync.Mutex
	closed := false
	violations := 0
	first := make(chan struct{}, 1)
	onEdit := func(string) {
		mu.Lock()
		if closed {
			violations++
		}
		mu.Unlock()
		select {
		case first <- struct{}{}:
		default:
		}
	}

	c, err := Open(context.Background(), Options{Base: srv.URL, Room: "r1", Identity: identity.New(), OnEdit: onEdit})
	require.NoError(t, err)
	<-first

	c.Close()
	mu.Lock()
	closed = true
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, violations)
	mu.Unlock()

	// Idempotent, and sends after close are dropped.
	assert.NoError(t, c.Close())
	c.Send("late")
}

func TestSendAfterConnectionLost(t *testing.T) {
	srv := relayStub(t, func(conn *websocket.Conn) {})

	c, err := Open(context.Background(), Options{Base: srv.URL, Room: "r1", Identity: identity.New()})
	require.NoError(t, err)
	<-c.done

	assert.NotPanics(t, func() {
		c.Send("one")
		c.Send("two")
	})
	c.Close()
}

func TestOpenGivesUpWithContext(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := Open(ctx, Options{Base: url, Room: "r1", Identity: identity.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var opErr *net.OpError
	assert.ErrorAs(t, err, &opErr, "the last dial error is kept")
}

func TestOpenGivesUpAfterDialTimeout(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	_, err := Open(ctx, Options{Base: url, Room: "r1", Identity: identity.New(), DialTimeout: 300 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, ctx.Err())
}

func TestSendToStalledRelayTimesOut(t *testing.T) {
	old := writeWait
	writeWait = 200 * time.Millisecond
	t.Cleanup(func() { writeWait = old })

	release := make(chan struct{})
	srv := relayStub(t, func(conn *websocket.Conn) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	c, err := Open(context.Background(), Options{Base: srv.URL, Room: "r1", Identity: identity.New()})
	require.NoError(t, err)

	big := strings.Repeat("x", 1<<20)
	start := time.Now()
	for i := 0; i < 64; i++ {
		c.Send(big)
	}
	assert.Less(t, time.Since(start), 10*time.Second)

	c.writeMu.Lock()
	broken := c.broken
	c.writeMu.Unlock()
	assert.True(t, broken, "the stalled write is abandoned")

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a stalled relay")
	}
}

func TestOpenRetriesUntilRelayIsUp(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Open(ctx, Options{Base: srv.URL, Room: "r1", Identity: identity.New()})
	require.NoError(t, err)
	defer c.Close()

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}
