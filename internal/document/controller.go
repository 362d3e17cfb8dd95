// Package document is a participant's composition root: it owns the shared
// text and selected language, keeps them in sync with the room, and runs the
// text in the participant's sandbox.
package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/channel"
	"github.com/michaelbrown/codeshare/internal/identity"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/protocol"
)

var (
	// ErrAlreadyJoined is returned by a second Join.
	ErrAlreadyJoined = errors.New("document already joined a room")

	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("document closed")
)

// State is the controller lifecycle.
type State int

const (
	NotJoined State = iota
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case NotJoined:
		return "not joined"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Widget displays the document. SetValue is called with remote text.
type Widget interface {
	SetValue(text string)
}

// Notifier shows run outcomes.
type Notifier interface {
	Notify(note protocol.Notification)
}

// Sandbox runs code. *execution.Handle satisfies it.
type Sandbox interface {
	Run(ctx context.Context, lang protocol.Language, code string) (protocol.Response, error)
	Close() error
}

// Channel is the room connection.
type Channel interface {
	Send(text string)
	Close() error
}

// OpenFunc connects to a room. The default wraps channel.Open.
type OpenFunc func(ctx context.Context, opts channel.Options) (Channel, error)

func openChannel(ctx context.Context, opts channel.Options) (Channel, error) {
	return channel.Open(ctx, opts)
}

// Options configures New.
type Options struct {
	Identity identity.Identity
	Widget   Widget
	Notifier Notifier
	Sandbox  Sandbox
	Logger   *zap.Logger

	// Initial text and language; Language defaults to JavaScript.
	Text     string
	Language protocol.Language

	// DialTimeout bounds the initial connection attempt of Join.
	DialTimeout time.Duration

	// Open replaces channel.Open, e.g. in tests.
	Open OpenFunc
}

// Controller owns one document session.
type Controller struct {
	id       identity.Identity
	widget   Widget
	notifier Notifier
	sandbox  Sandbox
	open     OpenFunc
	dialWait time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	state State
	room  string
	text  string
	lang  protocol.Language
	ch    Channel
}

// New creates a controller that has not joined a room. The controller owns
// the sandbox and closes it on Close.
func New(opts Options) *Controller {
	lang := opts.Language
	if lang == "" {
		lang = protocol.JavaScript
	}
	open := opts.Open
	if open == nil {
		open = openChannel
	}
	id := opts.Identity
	if id == "" {
		id = identity.New()
	}
	return &Controller{
		id:       id,
		widget:   opts.Widget,
		notifier: opts.Notifier,
		sandbox:  opts.Sandbox,
		open:     open,
		dialWait: opts.DialTimeout,
		logger:   logging.OrNop(opts.Logger).Named("document"),
		text:     opts.Text,
		lang:     lang,
	}
}

// Identity is the session identity used to tag outbound edits.
func (c *Controller) Identity() identity.Identity { return c.id }

// Join connects to room on the relay at base. It succeeds at most once per
// controller.
func (c *Controller) Join(ctx context.Context, base, room string) error {
	c.mu.Lock()
	switch c.state {
	case Joined:
		c.mu.Unlock()
		return ErrAlreadyJoined
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	}
	// Hold the state while dialing so a concurrent Join cannot open a
	// second channel.
	c.state = Joined
	c.room = room
	c.mu.Unlock()

	ch, err := c.open(ctx, channel.Options{
		Base:        base,
		Room:        room,
		Identity:    c.id,
		OnEdit:      c.remoteEdit,
		Logger:      c.logger,
		DialTimeout: c.dialWait,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.state == Joined {
			c.state = NotJoined
			c.room = ""
		}
		return fmt.Errorf("joining room %s: %w", room, err)
	}
	if c.state == Closed {
		// Closed while dialing.
		ch.Close()
		return ErrClosed
	}
	c.ch = ch
	c.logger.Info("joined room", zap.String("room", room), zap.String("identity", c.id.String()))
	return nil
}

// State reports the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room is the joined room id, or "" before Join.
func (c *Controller) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Text is the current document text.
func (c *Controller) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// LocalEdit records text typed locally and sends it to the room. Before
// Join the text is kept but not sent.
func (c *Controller) LocalEdit(text string) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.text = text
	ch := c.ch
	c.mu.Unlock()

	if ch != nil {
		ch.Send(text)
	}
}

// remoteEdit replaces the text with a relayed edit. Last edit wins.
func (c *Controller) remoteEdit(text string) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.text = text
	c.mu.Unlock()

	if c.widget != nil {
		c.widget.SetValue(text)
	}
}

// SetLanguage selects the language used by Run.
func (c *Controller) SetLanguage(lang protocol.Language) error {
	if lang != protocol.JavaScript && lang != protocol.Python {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownLanguage, lang)
	}
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
	return nil
}

// Language is the selected language.
func (c *Controller) Language() protocol.Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

// Run executes the current text in the selected language and shows the
// outcome through the notifier. The returned error covers failures to reach
// the sandbox; errors raised by the code itself are part of the
// notification.
func (c *Controller) Run(ctx context.Context) (protocol.Notification, error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return protocol.Notification{}, ErrClosed
	}
	code, lang := c.text, c.lang
	c.mu.Unlock()

	if c.sandbox == nil {
		return protocol.Notification{}, errors.New("no sandbox configured")
	}

	resp, err := c.sandbox.Run(ctx, lang, code)
	if err != nil {
		c.logger.Warn("run failed", zap.String("language", string(lang)), zap.Error(err))
		return protocol.Notification{}, fmt.Errorf("running %s: %w", lang.Label(), err)
	}

	note := protocol.Present(resp)
	if c.notifier != nil {
		c.notifier.Notify(note)
	}
	return note, nil
}

// Close leaves the room and shuts the sandbox down. It is safe to call
// more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	ch := c.ch
	c.ch = nil
	c.mu.Unlock()

	var errs []error
	if ch != nil {
		errs = append(errs, ch.Close())
	}
	if c.sandbox != nil {
		errs = append(errs, c.sandbox.Close())
	}
	return errors.Join(errs...)
}
