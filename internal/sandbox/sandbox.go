// Package sandbox runs interpreter processes isolated from the host: either
// a local child with an empty environment in a scratch directory, or a
// Docker container without network access.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ExecOpts describes one interpreter invocation. Files are written into a
// fresh scratch directory; Script names the file to execute.
type ExecOpts struct {
	Files  map[string]string
	Script string
	Stdin  string
}

// ExecResult is the output of a sandboxed execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs an interpreter in an isolated environment.
type Runner interface {
	// Prepare makes the interpreter available, e.g. by resolving the binary
	// or pulling the image. It may be slow and is called once per engine.
	Prepare(ctx context.Context) error

	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
}

// writeScratch materializes opts.Files into a new temp dir. The caller
// removes the directory.
func writeScratch(opts ExecOpts) (string, error) {
	dir, err := os.MkdirTemp("", "codeshare-sandbox-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	for name, content := range opts.Files {
		if filepath.Base(name) != name {
			os.RemoveAll(dir)
			return "", fmt.Errorf("invalid sandbox file name %q", name)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return dir, nil
}
