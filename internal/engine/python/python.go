// Package python is the deferred-bootstrap Python engine. The interpreter
// is provided by a sandbox.Runner and brought up lazily on the first run;
// every later run reuses it.
//
// Code is fed to a small harness on stdin. The harness captures print
// output, evaluates a trailing expression statement as the run's value and
// reports both as one JSON line.
package python

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/engine"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/protocol"
	"github.com/michaelbrown/codeshare/internal/sandbox"
)

//go:embed harness.py
var harness string

const harnessName = "harness.py"

// Engine evaluates Python source through a runner.
type Engine struct {
	runner sandbox.Runner
	boot   *engine.Bootstrapper
	logger *zap.Logger
}

// New creates an engine that has not yet bootstrapped.
func New(runner sandbox.Runner, logger *zap.Logger) *Engine {
	e := &Engine{
		runner: runner,
		logger: logging.OrNop(logger).Named("python"),
	}
	e.boot = engine.NewBootstrapper(e.bootstrap)
	return e
}

func (e *Engine) Language() protocol.Language { return protocol.Python }

// State reports the bootstrap lifecycle state.
func (e *Engine) State() engine.State { return e.boot.State() }

// Bootstrap prepares the interpreter once. Concurrent callers share the
// in-flight attempt; a failed attempt is retried by the next caller.
func (e *Engine) Bootstrap(ctx context.Context) error {
	return e.boot.Ensure(ctx)
}

func (e *Engine) bootstrap(ctx context.Context) error {
	e.logger.Info("bootstrapping interpreter")
	if err := e.runner.Prepare(ctx); err != nil {
		e.logger.Warn("bootstrap failed", zap.Error(err))
		return err
	}
	e.logger.Info("interpreter ready")
	return nil
}

type report struct {
	Result *string  `json:"result"`
	Error  *string  `json:"error"`
	Logs   []string `json:"logs"`
}

// Run bootstraps if needed, then executes code.
func (e *Engine) Run(ctx context.Context, code string) (engine.Output, error) {
	if err := e.Bootstrap(ctx); err != nil {
		return engine.Output{Logs: []string{}}, fmt.Errorf("%w: %v", engine.ErrBootstrap, err)
	}

	res, err := e.runner.Exec(ctx, sandbox.ExecOpts{
		Files:  map[string]string{harnessName: harness},
		Script: harnessName,
		Stdin:  code,
	})
	if err != nil {
		return engine.Output{Logs: []string{}}, err
	}

	rep, err := parseReport(res.Stdout)
	if err != nil {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = err.Error()
		}
		return engine.Output{Logs: []string{}}, fmt.Errorf("interpreter exited with code %d: %s", res.ExitCode, msg)
	}

	out := engine.Output{Logs: rep.Logs}
	if out.Logs == nil {
		out.Logs = []string{}
	}
	if rep.Error != nil {
		return out, errors.New(*rep.Error)
	}
	if rep.Result != nil {
		out.Value = protocol.NormalizeValue(*rep.Result)
	}
	return out, nil
}

// parseReport reads the harness's JSON line, which is the last non-empty
// line of stdout.
func parseReport(stdout string) (report, error) {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return report{}, errors.New("no report from harness")
	}
	var rep report
	if err := json.Unmarshal([]byte(last), &rep); err != nil {
		return report{}, fmt.Errorf("decoding harness report: %w", err)
	}
	return rep, nil
}
