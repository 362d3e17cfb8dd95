// Package engine defines the capability every language engine offers the
// execution sandbox, and the memoized bootstrap shared by engines whose
// runtime must be loaded before first use.
package engine

import (
	"context"
	"errors"

	"github.com/michaelbrown/codeshare/internal/protocol"
)

// ErrBootstrap wraps failures to bring an engine's runtime up.
var ErrBootstrap = errors.New("engine bootstrap failed")

// Output is what a run produced. Logs is valid even when Run returns an
// error, holding whatever was captured before the failure.
type Output struct {
	Value *string
	Logs  []string
}

// Engine executes code for one language.
type Engine interface {
	Language() protocol.Language

	// Bootstrap readies the runtime. It is idempotent; engines without a
	// deferred runtime return nil immediately.
	Bootstrap(ctx context.Context) error

	// Run evaluates code and returns the produced value and captured logs.
	// Evaluation failures are returned as errors, never as panics.
	Run(ctx context.Context, code string) (Output, error)
}
