package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// LocalRunner runs a host interpreter as a child process with an empty
// environment, isolated mode (-I) and a scratch working directory.
type LocalRunner struct {
	Interpreter string // name or path, e.g. "python3"

	mu   sync.Mutex
	path string
}

// NewLocalRunner creates a runner for interpreter.
func NewLocalRunner(interpreter string) *LocalRunner {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &LocalRunner{Interpreter: interpreter}
}

// Prepare resolves the interpreter and checks that it is Python 3.
func (l *LocalRunner) Prepare(ctx context.Context) error {
	path, err := exec.LookPath(l.Interpreter)
	if err != nil {
		return fmt.Errorf("locating %s: %w", l.Interpreter, err)
	}

	out, err := exec.CommandContext(ctx, path, "-I", "-c", "import sys; print(sys.version_info[0])").Output()
	if err != nil {
		return fmt.Errorf("probing %s: %w", path, err)
	}
	if major := strings.TrimSpace(string(out)); major != "3" {
		return fmt.Errorf("%s is python %s, need 3", path, major)
	}

	l.mu.Lock()
	l.path = path
	l.mu.Unlock()
	return nil
}

func (l *LocalRunner) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()
	if path == "" {
		return nil, fmt.Errorf("interpreter %s not prepared", l.Interpreter)
	}

	tmpDir, err := writeScratch(opts)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	cmd := exec.CommandContext(ctx, path, "-I", filepath.Join(tmpDir, opts.Script))
	cmd.Dir = tmpDir
	cmd.Env = []string{"LANG=C.UTF-8", "HOME=" + tmpDir}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = strings.NewReader(opts.Stdin)

	return finish(cmd.Run(), &stdout, &stderr, "running "+l.Interpreter)
}
