package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/engine"
	"github.com/michaelbrown/codeshare/internal/logging"
)

// ProcessPort runs the sandbox host in a child process and talks to it over
// the child's stdin and stdout. The child's stderr is passed through.
type ProcessPort struct {
	*StreamPort
	cmd *exec.Cmd
}

// StartProcess launches binary with args as a sandbox child.
func StartProcess(binary string, args []string, logger *zap.Logger) (*ProcessPort, error) {
	logger = logging.OrNop(logger)

	cmd := exec.Command(binary, args...)
	cmd.Stderr = os.Stderr
	// Keep terminal signals meant for the owner away from the child.
	detachProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting sandbox %s: %w", binary, err)
	}
	logger.Info("sandbox process started", zap.Int("pid", cmd.Process.Pid))

	p := &ProcessPort{cmd: cmd}
	p.StreamPort = NewStreamPort(stdout, stdin, func() error {
		stdin.Close()
		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()
		select {
		case err := <-exited:
			return ignoreExit(err)
		case <-time.After(2 * time.Second):
			cmd.Process.Kill()
			return ignoreExit(<-exited)
		}
	}, logger)
	return p, nil
}

// Pid is the child's process id.
func (p *ProcessPort) Pid() int { return p.cmd.Process.Pid }

func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Factory creates the sandbox side and returns the owner's end of its port.
type Factory func(ctx context.Context) (Port, error)

// Process is a Factory that launches a child sandbox.
func Process(binary string, args []string, logger *zap.Logger) Factory {
	return func(ctx context.Context) (Port, error) {
		return StartProcess(binary, args, logger)
	}
}

// ServeStdio is the child side of Process: it serves engines over stdin and
// stdout until stdin closes or ctx is done. Interrupts are ignored so that
// only the owner decides when the sandbox goes away.
func ServeStdio(ctx context.Context, logger *zap.Logger, engines ...engine.Engine) error {
	signal.Ignore(os.Interrupt)

	port := NewStreamPort(os.Stdin, os.Stdout, nil, logger)
	defer port.Close()

	if err := NewHost(port, logger, engines...).Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return port.Err()
}
