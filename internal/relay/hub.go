// Package relay is the room broadcast hub behind the relay endpoint. Every
// frame a member sends is handed verbatim to every other member of the
// same room; frames are never parsed or rewritten.
package relay

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/metrics"
)

// ErrHubClosed is returned by Join after Close.
var ErrHubClosed = errors.New("relay hub closed")

// sendBuffer is how many frames a slow member may fall behind before it is
// dropped.
const sendBuffer = 256

// Member is one connection in a room.
type Member struct {
	ID   string
	Room string

	send chan []byte
	once sync.Once
}

// Outbound yields frames for this member. It is closed when the member
// leaves or is evicted.
func (m *Member) Outbound() <-chan []byte { return m.send }

func (m *Member) stop() { m.once.Do(func() { close(m.send) }) }

type room struct {
	members     map[string]*Member
	unsubscribe func()
}

// RoomInfo describes a live room on this instance.
type RoomInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// Hub tracks live rooms and their members.
type Hub struct {
	broker  Broker
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// NewHub creates a hub publishing through broker. m may be nil.
func NewHub(broker Broker, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		broker:  broker,
		metrics: m,
		logger:  logging.OrNop(logger).Named("hub"),
		rooms:   make(map[string]*room),
	}
}

// Join adds a new member to roomID, creating the room on first join.
func (h *Hub) Join(ctx context.Context, roomID string) (*Member, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]*Member)}
		unsubscribe, err := h.broker.Subscribe(ctx, roomID, func(f Frame) { h.deliver(r, f) })
		if err != nil {
			return nil, err
		}
		r.unsubscribe = unsubscribe
		h.rooms[roomID] = r
		h.gauge(func(m *metrics.Metrics) { m.Rooms.Inc() })
	}

	m := &Member{ID: uuid.NewString(), Room: roomID, send: make(chan []byte, sendBuffer)}
	r.members[m.ID] = m
	h.gauge(func(mt *metrics.Metrics) { mt.Connections.Inc() })
	h.logger.Debug("member joined", zap.String("room", roomID), zap.String("member", m.ID), zap.Int("members", len(r.members)))
	return m, nil
}

// Leave removes m. An empty room is removed and its subscription cancelled.
func (h *Hub) Leave(m *Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(m)
}

// remove must be called with h.mu held.
func (h *Hub) remove(m *Member) {
	r, ok := h.rooms[m.Room]
	if !ok {
		return
	}
	if _, ok := r.members[m.ID]; !ok {
		return
	}
	delete(r.members, m.ID)
	m.stop()
	h.gauge(func(mt *metrics.Metrics) { mt.Connections.Dec() })

	if len(r.members) == 0 {
		delete(h.rooms, m.Room)
		h.gauge(func(mt *metrics.Metrics) { mt.Rooms.Dec() })
		// The broker may be delivering to this room right now and waiting on
		// h.mu; cancel outside the lock. Frames still in flight on the old
		// subscription are dropped by deliver once the room is rejoined.
		go r.unsubscribe()
		h.logger.Debug("room emptied", zap.String("room", m.Room))
	}
}

// Broadcast publishes data from m to the rest of its room.
func (h *Hub) Broadcast(ctx context.Context, m *Member, data []byte) error {
	err := h.broker.Publish(ctx, Frame{Room: m.Room, Origin: m.ID, Data: string(data)})
	if err != nil {
		h.gauge(func(mt *metrics.Metrics) { mt.FramesDropped.Inc() })
	}
	return err
}

// deliver queues f for every local member of r except the origin. A member
// whose queue is full is evicted. Frames from a subscription whose room has
// since been removed are dropped.
func (h *Hub) deliver(r *room, f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[f.Room] != r {
		return
	}
	data := []byte(f.Data)
	for id, m := range r.members {
		if id == f.Origin {
			continue
		}
		select {
		case m.send <- data:
			h.gauge(func(mt *metrics.Metrics) { mt.FramesRelayed.Inc() })
		default:
			h.logger.Warn("evicting slow member", zap.String("room", f.Room), zap.String("member", id))
			h.gauge(func(mt *metrics.Metrics) { mt.MembersEvicted.Inc() })
			h.remove(m)
		}
	}
}

// Rooms lists live rooms on this instance, sorted by id.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]RoomInfo, 0, len(h.rooms))
	for id, r := range h.rooms {
		out = append(out, RoomInfo{ID: id, Members: len(r.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Members returns the number of local members in roomID.
func (h *Hub) Members(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		return len(r.members)
	}
	return 0
}

// Evict disconnects every member of roomID.
func (h *Hub) Evict(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		for _, m := range r.members {
			h.remove(m)
		}
	}
}

// Close disconnects all members and cancels every subscription. Join fails
// afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		for _, m := range r.members {
			m.stop()
			h.gauge(func(mt *metrics.Metrics) { mt.Connections.Dec() })
		}
		r.unsubscribe()
		h.gauge(func(mt *metrics.Metrics) { mt.Rooms.Dec() })
	}
}

func (h *Hub) gauge(fn func(*metrics.Metrics)) {
	if h.metrics != nil {
		fn(h.metrics)
	}
}
