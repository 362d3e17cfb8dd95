package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// State is the lifecycle of a deferred runtime.
type State int32

const (
	Uninitialized State = iota
	Bootstrapping
	Ready
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Ready:
		return "ready"
	}
	return "uninitialized"
}

// Bootstrapper runs an initialization function at most once to success.
// Callers arriving while it is in flight share its outcome. A failure resets
// the state to Uninitialized so the next caller retries.
type Bootstrapper struct {
	fn    func(ctx context.Context) error
	group singleflight.Group
	state atomic.Int32
}

func NewBootstrapper(fn func(ctx context.Context) error) *Bootstrapper {
	return &Bootstrapper{fn: fn}
}

// State reports the current lifecycle state.
func (b *Bootstrapper) State() State {
	return State(b.state.Load())
}

// Ensure returns once the runtime is ready, the shared bootstrap failed, or
// ctx is done. The bootstrap itself is detached from any single caller's
// cancellation since other callers may be waiting on it.
func (b *Bootstrapper) Ensure(ctx context.Context) error {
	if b.State() == Ready {
		return nil
	}

	ch := b.group.DoChan("bootstrap", func() (any, error) {
		if b.State() == Ready {
			return nil, nil
		}
		b.state.Store(int32(Bootstrapping))
		if err := b.fn(context.WithoutCancel(ctx)); err != nil {
			b.state.Store(int32(Uninitialized))
			return nil, err
		}
		b.state.Store(int32(Ready))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
