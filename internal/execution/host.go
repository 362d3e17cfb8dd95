package execution

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/engine"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/protocol"
)

// Host is the sandbox side: it reads run requests from a port, runs them on
// the matching engine and posts back a result or an error. Requests for the
// same language run one at a time in arrival order.
type Host struct {
	port    Port
	engines map[protocol.Language]engine.Engine
	logger  *zap.Logger
}

// NewHost serves engines over port.
func NewHost(port Port, logger *zap.Logger, engines ...engine.Engine) *Host {
	h := &Host{
		port:    port,
		engines: make(map[protocol.Language]engine.Engine, len(engines)),
		logger:  logging.OrNop(logger).Named("sandbox"),
	}
	for _, e := range engines {
		h.engines[e.Language()] = e
	}
	return h
}

// Serve handles requests until the port closes or ctx is done. On the way
// out the run in progress is interrupted and queued requests are answered
// with their interruption errors.
func (h *Host) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	queues := make(map[protocol.Language]chan protocol.Request, len(h.engines))
	var wg sync.WaitGroup
	for lang, e := range h.engines {
		q := make(chan protocol.Request, 64)
		queues[lang] = q
		wg.Add(1)
		go func(e engine.Engine, q <-chan protocol.Request) {
			defer wg.Done()
			for req := range q {
				h.reply(context.Background(), h.execute(runCtx, e, req))
			}
		}(e, q)
	}
	defer func() {
		cancel()
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	msgs := h.port.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			req, err := protocol.ParseRequest(data)
			if err != nil {
				h.logger.Warn("rejecting request", zap.Error(err))
				h.reply(ctx, protocol.Failure{Message: err.Error(), Logs: []string{}, ID: req.ID})
				continue
			}
			q, ok := queues[req.Language()]
			if !ok {
				h.reply(ctx, protocol.Failure{
					Language: req.Language(),
					Message:  fmt.Sprintf("no engine for %s", req.Language().Label()),
					Logs:     []string{},
					ID:       req.ID,
				})
				continue
			}
			select {
			case q <- req:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// execute runs one request. Engine panics become failures so nothing
// unwinds past the sandbox boundary.
func (h *Host) execute(ctx context.Context, e engine.Engine, req protocol.Request) (resp protocol.Response) {
	lang := e.Language()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("engine panic", zap.String("language", string(lang)), zap.Any("panic", r))
			resp = protocol.Failure{Language: lang, Message: fmt.Sprintf("internal error: %v", r), Logs: []string{}, ID: req.ID}
		}
	}()

	out, err := e.Run(ctx, req.Code)
	logs := out.Logs
	if logs == nil {
		logs = []string{}
	}
	if err != nil {
		h.logger.Debug("run failed", zap.String("language", string(lang)), zap.Error(err))
		return protocol.Failure{Language: lang, Message: err.Error(), Logs: logs, ID: req.ID}
	}
	return protocol.Result{Language: lang, Value: out.Value, Logs: logs, ID: req.ID}
}

func (h *Host) reply(ctx context.Context, resp protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		h.logger.Error("encoding response", zap.Error(err))
		return
	}
	if err := h.port.Post(ctx, data); err != nil {
		h.logger.Debug("posting response", zap.Error(err))
	}
}

// InProcess is a Factory that serves engines on the far end of a Pipe. The
// host stops when the owner closes its port.
func InProcess(logger *zap.Logger, engines ...engine.Engine) Factory {
	return func(ctx context.Context) (Port, error) {
		owner, far := Pipe()
		host := NewHost(far, logger, engines...)
		go host.Serve(context.Background())
		return owner, nil
	}
}
