package relay

import (
	"context"
	"sync"
)

// Frame is one relayed message. Origin is the sending member's id; the
// frame is delivered to every member of the room except its origin.
type Frame struct {
	Room   string `json:"room"`
	Origin string `json:"origin"`
	Data   string `json:"data"`
}

// Broker fans frames out to every hub subscribed to a room.
type Broker interface {
	Publish(ctx context.Context, f Frame) error

	// Subscribe calls deliver for each frame published to room until the
	// returned cancel func is called.
	Subscribe(ctx context.Context, room string, deliver func(Frame)) (cancel func(), err error)

	Close() error
}

// MemoryBroker delivers frames within one process.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[int]func(Frame)
	next int
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]func(Frame))}
}

func (b *MemoryBroker) Publish(_ context.Context, f Frame) error {
	b.mu.RLock()
	targets := make([]func(Frame), 0, len(b.subs[f.Room]))
	for _, fn := range b.subs[f.Room] {
		targets = append(targets, fn)
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(f)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, room string, deliver func(Frame)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	if b.subs[room] == nil {
		b.subs[room] = make(map[int]func(Frame))
	}
	b.subs[room][id] = deliver

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[room], id)
			if len(b.subs[room]) == 0 {
				delete(b.subs, room)
			}
		})
	}, nil
}

func (b *MemoryBroker) Close() error { return nil }
