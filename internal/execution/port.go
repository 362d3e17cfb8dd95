// Package execution carries run requests from a document owner to its
// sandbox and results back. The two sides share nothing but a Port, a
// channel of opaque byte messages; the sandbox may live in the same process
// (Pipe) or in a child process speaking newline-delimited JSON (Process).
package execution

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/logging"
)

// ErrClosed is returned when posting to, or waiting on, a closed port.
var ErrClosed = errors.New("port closed")

// Port is a duplex message channel.
type Port interface {
	// Post delivers one message to the other side. The slice is not retained.
	Post(ctx context.Context, msg []byte) error

	// Messages yields inbound messages and is closed when the port closes.
	Messages() <-chan []byte

	Close() error
}

// Pipe returns two connected in-process ports. Messages are copied on Post
// so neither side can observe the other's buffers. Closing either end
// closes both.
func Pipe() (Port, Port) {
	done := make(chan struct{})
	once := &sync.Once{}
	a := newPipeEnd(done, once)
	b := newPipeEnd(done, once)
	a.peer, b.peer = b, a
	return a, b
}

type pipeEnd struct {
	raw  chan []byte
	out  chan []byte
	done chan struct{}
	once *sync.Once
	peer *pipeEnd
}

func newPipeEnd(done chan struct{}, once *sync.Once) *pipeEnd {
	p := &pipeEnd{
		raw:  make(chan []byte, 64),
		out:  make(chan []byte),
		done: done,
		once: once,
	}
	go p.forward()
	return p
}

func (p *pipeEnd) forward() {
	defer close(p.out)
	for {
		select {
		case msg := <-p.raw:
			select {
			case p.out <- msg:
			case <-p.done:
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *pipeEnd) Post(ctx context.Context, msg []byte) error {
	cp := append([]byte(nil), msg...)
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.peer.raw <- cp:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Messages() <-chan []byte { return p.out }

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// maxMessage bounds a single newline-delimited message on a stream port.
const maxMessage = 16 << 20

// StreamPort speaks newline-delimited messages over a reader/writer pair,
// e.g. a child process's stdio.
type StreamPort struct {
	w       io.Writer
	closeFn func() error
	logger  *zap.Logger

	mu     sync.Mutex
	out    chan []byte
	once   sync.Once
	closed chan struct{}

	errMu   sync.Mutex
	readErr error
}

// NewStreamPort starts reading r. closeFn, if set, is called once on Close.
// Messages is closed at EOF or on the first read error; see Err.
func NewStreamPort(r io.Reader, w io.Writer, closeFn func() error, logger *zap.Logger) *StreamPort {
	return newStreamPort(r, w, closeFn, logger, maxMessage)
}

func newStreamPort(r io.Reader, w io.Writer, closeFn func() error, logger *zap.Logger, limit int) *StreamPort {
	s := &StreamPort{
		w:       w,
		closeFn: closeFn,
		logger:  logging.OrNop(logger).Named("port"),
		out:     make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	go s.read(r, limit)
	return s
}

// Err is the error that ended reading, or nil after a clean EOF.
func (s *StreamPort) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

func (s *StreamPort) read(r io.Reader, limit int) {
	defer close(s.out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, limit)), limit)
	defer func() {
		if err := sc.Err(); err != nil {
			s.logger.Error("stream port read failed", zap.Error(err))
			s.errMu.Lock()
			s.readErr = err
			s.errMu.Unlock()
		}
	}()
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		select {
		case s.out <- append([]byte(nil), line...):
		case <-s.closed:
			return
		}
	}
}

func (s *StreamPort) Post(ctx context.Context, msg []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 0, len(msg)+1)
	buf = append(append(buf, msg...), '\n')
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	return nil
}

func (s *StreamPort) Messages() <-chan []byte { return s.out }

func (s *StreamPort) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}
