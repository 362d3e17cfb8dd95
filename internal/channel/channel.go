// Package channel is a participant's duplex connection to a room relay. It
// sends local edits tagged with the session identity and hands remote edits
// to a callback, dropping echoes of its own.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/identity"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/protocol"
)

// writeWait bounds a single edit write to a stalled relay.
var writeWait = 10 * time.Second

// Options configures Open.
type Options struct {
	Base     string // relay base URL; http(s) or ws(s)
	Room     string
	Identity identity.Identity
	OnEdit   func(content string)
	Logger   *zap.Logger

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// DialTimeout bounds the initial dial retries. Zero means until ctx is done.
	DialTimeout time.Duration
}

// Channel is an open connection to one room. Once the connection is lost it
// stays lost; later sends are dropped.
type Channel struct {
	id     identity.Identity
	onEdit func(string)
	logger *zap.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex
	broken  bool

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// WebSocketURL derives the room endpoint from a relay base URL. Plain http
// maps to ws and https to wss.
func WebSocketURL(base, room string) (string, error) {
	if room == "" {
		return "", fmt.Errorf("room id is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(room)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Open dials the room's relay endpoint, retrying with exponential backoff
// until it connects or ctx is done.
func Open(ctx context.Context, opts Options) (*Channel, error) {
	target, err := WebSocketURL(opts.Base, opts.Room)
	if err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger).Named("channel").With(zap.String("room", opts.Room))

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = opts.DialTimeout

	var conn *websocket.Conn
	dial := func() error {
		c, resp, err := dialer.DialContext(ctx, target, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("dial failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify); err != nil {
		if ctxErr := stopCause(ctx, b); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	logger.Info("connected", zap.String("url", target))

	c := &Channel{
		id:     opts.Identity,
		onEdit: opts.OnEdit,
		logger: logger,
		conn:   conn,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// stopCause reports the context error behind a stopped retry loop. The loop
// also stops early, with ctx still live, when its deadline falls before the
// next attempt.
func stopCause(ctx context.Context, b *backoff.ExponentialBackOff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil
	}
	if b.MaxElapsedTime != 0 && b.GetElapsedTime() > b.MaxElapsedTime {
		return nil
	}
	return context.DeadlineExceeded
}

// Send publishes text as the full document. It never fails; when the
// connection is closed or broken the edit is dropped.
func (c *Channel) Send(text string) {
	data, err := protocol.NewEdit(text, c.id).Encode()
	if err != nil {
		c.logger.Error("encoding edit", zap.Error(err))
		return
	}

	if c.isClosed() {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.broken {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.broken = true
		c.logger.Debug("write failed, dropping further edits", zap.Error(err))
	}
}

func (c *Channel) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			c.writeMu.Lock()
			c.broken = true
			c.writeMu.Unlock()
			return
		}
		c.handle(data)
	}
}

func (c *Channel) handle(data []byte) {
	edit, err := protocol.DecodeEdit(data)
	if err != nil {
		c.logger.Debug("dropping malformed frame", zap.Error(err))
		return
	}
	if edit.Type != protocol.TypeEdit || edit.From(c.id) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.onEdit == nil {
		return
	}
	c.onEdit(edit.Content)
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disconnects. It is safe to call more than once. Once it returns the
// edit callback is not invoked again. The callback must not call Close.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	if !c.broken {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.broken = true
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}
