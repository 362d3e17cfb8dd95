package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/protocol"
)

// ErrSandboxExited is returned by a run whose sandbox went away before
// answering. The next run starts a new sandbox.
var ErrSandboxExited = errors.New("sandbox exited")

// Handle is the document owner's side of a sandbox. The sandbox is created
// on first use and reused until it exits, a run is cancelled, or Close is
// called; the next run after an exit or a cancellation starts a new one.
// Each Run carries a fresh request id and waits for the response echoing
// it.
type Handle struct {
	factory Factory
	logger  *zap.Logger

	mu        sync.Mutex
	port      Port
	exited    chan struct{} // closed when the current sandbox's listener ends
	pending   map[string]chan protocol.Response
	unmatched func(protocol.Response)
	closed    bool
	done      chan struct{}
}

// NewHandle returns a handle whose sandbox factory has not been called yet.
func NewHandle(factory Factory, logger *zap.Logger) *Handle {
	return &Handle{
		factory: factory,
		logger:  logging.OrNop(logger).Named("handle"),
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}
}

// OnUnmatched registers fn for responses that carry no id this handle is
// waiting on, e.g. answers to Submit.
func (h *Handle) OnUnmatched(fn func(protocol.Response)) {
	h.mu.Lock()
	h.unmatched = fn
	h.mu.Unlock()
}

// Ensure creates the sandbox on first call and returns the same port on
// every later call while that sandbox is alive. A failed creation is retried
// by the next call.
func (h *Handle) Ensure(ctx context.Context) (Port, error) {
	port, _, err := h.ensure(ctx)
	return port, err
}

func (h *Handle) ensure(ctx context.Context) (Port, <-chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, ErrClosed
	}
	if h.port != nil {
		return h.port, h.exited, nil
	}

	port, err := h.factory(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating sandbox: %w", err)
	}
	exited := make(chan struct{})
	h.port, h.exited = port, exited
	go h.listen(port, exited)
	return port, exited, nil
}

// discard forgets port if it is still the current sandbox and shuts it
// down. The shutdown interrupts whatever the sandbox is running.
func (h *Handle) discard(port Port) {
	h.mu.Lock()
	if h.port == port {
		h.port, h.exited = nil, nil
	}
	h.mu.Unlock()
	go port.Close()
}

// post sends data to the current sandbox. A sandbox that cannot take the
// message is discarded and the post retried once on a fresh one.
func (h *Handle) post(ctx context.Context, data []byte) (Port, <-chan struct{}, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		port, exited, err := h.ensure(ctx)
		if err != nil {
			return nil, nil, err
		}
		if lastErr = port.Post(ctx, data); lastErr == nil {
			return port, exited, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		h.logger.Warn("sandbox rejected request, restarting it", zap.Error(lastErr))
		h.discard(port)
	}
	return nil, nil, fmt.Errorf("posting request: %w", lastErr)
}

// Run submits code for lang and waits for its response. Cancelling ctx
// abandons the run and restarts the sandbox so the code stops running;
// other runs in flight on that sandbox fail with ErrSandboxExited.
func (h *Handle) Run(ctx context.Context, lang protocol.Language, code string) (protocol.Response, error) {
	id := uuid.NewString()
	req, err := protocol.NewRequest(lang, code, id)
	if err != nil {
		return nil, err
	}
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}

	ch := make(chan protocol.Response, 1)
	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	port, exited, err := h.post(ctx, data)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-exited:
		// The listener may have delivered just before it ended.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		if h.isClosed() {
			return nil, ErrClosed
		}
		return nil, ErrSandboxExited
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		h.discard(port)
		return nil, ctx.Err()
	}
}

// Submit posts a request without waiting. Its response is delivered to the
// OnUnmatched callback.
func (h *Handle) Submit(ctx context.Context, req protocol.Request) error {
	data, err := req.Encode()
	if err != nil {
		return err
	}
	_, _, err = h.post(ctx, data)
	return err
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) listen(port Port, exited chan struct{}) {
	defer func() {
		h.mu.Lock()
		current := h.port == port
		if current {
			h.port, h.exited = nil, nil
		}
		closed := h.closed
		h.mu.Unlock()

		if current && !closed {
			h.logger.Warn("sandbox exited, a new one starts on the next run")
			// Reap it.
			go port.Close()
		}
		close(exited)
	}()

	for data := range port.Messages() {
		resp, err := protocol.ParseResponse(data)
		if err != nil {
			h.logger.Warn("dropping sandbox message", zap.Error(err))
			continue
		}

		h.mu.Lock()
		ch, ok := h.pending[resp.RequestID()]
		if ok {
			delete(h.pending, resp.RequestID())
		}
		fn := h.unmatched
		h.mu.Unlock()

		switch {
		case ok:
			ch <- resp
		case fn != nil:
			fn(resp)
		default:
			h.logger.Debug("unmatched response", zap.String("id", resp.RequestID()))
		}
	}
}

// Close tears down the sandbox. Pending and later runs fail with ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	port := h.port
	h.port, h.exited = nil, nil
	close(h.done)
	h.mu.Unlock()

	if port != nil {
		return port.Close()
	}
	return nil
}
