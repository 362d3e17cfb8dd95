// Package js is the immediate-mode JavaScript engine, backed by goja.
//
// Each run gets a fresh VM so no state leaks between requests. The VM has
// no module loader, no process object and no timers; console output is
// captured for the duration of the run.
package js

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/engine"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/protocol"
)

// Engine evaluates JavaScript source.
type Engine struct {
	logger *zap.Logger
}

// New creates a JavaScript engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logging.OrNop(logger).Named("js")}
}

func (e *Engine) Language() protocol.Language { return protocol.JavaScript }

// Bootstrap is a no-op; goja needs no runtime download.
func (e *Engine) Bootstrap(context.Context) error { return nil }

// Run evaluates code. A returned promise is unwrapped once pending jobs
// have drained: fulfilled promises yield their value, rejected ones an error.
func (e *Engine) Run(ctx context.Context, code string) (engine.Output, error) {
	vm := goja.New()
	logs := &capture{}

	restore, err := installGlobals(vm, logs)
	if err != nil {
		return engine.Output{Logs: []string{}}, fmt.Errorf("preparing vm: %w", err)
	}
	defer restore()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("context cancelled")
	})
	defer stop()

	val, err := vm.RunString(code)
	if err != nil {
		return engine.Output{Logs: logs.lines()}, describe(err)
	}

	val, err = settle(val)
	if err != nil {
		return engine.Output{Logs: logs.lines()}, err
	}

	e.logger.Debug("run finished", zap.Int("log_lines", len(logs.lines())))
	return engine.Output{Value: stringify(val), Logs: logs.lines()}, nil
}

// capture collects console output until it is closed.
type capture struct {
	mu     sync.Mutex
	out    []string
	closed bool
}

func (c *capture) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.out = append(c.out, line)
	}
}

func (c *capture) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.out...)
}

func (c *capture) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// installGlobals strips host-reaching globals and routes console methods
// into logs. The returned func detaches the console and stops capture.
func installGlobals(vm *goja.Runtime, logs *capture) (func(), error) {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, err
		}
	}

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := vm.Set(name, noop); err != nil {
			return nil, err
		}
	}

	console := vm.NewObject()
	for _, method := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(method, consoleFunc(logs)); err != nil {
			return nil, err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return nil, err
	}

	return func() {
		logs.close()
		_ = vm.Set("console", goja.Undefined())
	}, nil
}

// consoleFunc joins arguments with spaces, stringifying each like String().
func consoleFunc(logs *capture) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		logs.add(strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func settle(val goja.Value) (goja.Value, error) {
	if val == nil {
		return nil, nil
	}
	p, ok := val.Export().(*goja.Promise)
	if !ok {
		return val, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, errors.New(valueString(p.Result()))
	}
	return nil, nil
}

func stringify(val goja.Value) *string {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return protocol.NormalizeValue(val.String())
}

func valueString(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "undefined"
	}
	return val.String()
}

// describe turns goja failures into the message a user expects to see,
// e.g. "Error: boom" rather than goja's stack-annotated form.
func describe(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("execution interrupted: %v", interrupted.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil && !goja.IsUndefined(v) {
			return errors.New(v.String())
		}
		return errors.New(ex.Error())
	}
	return err
}
