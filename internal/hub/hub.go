package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 64

// Event is a named payload delivered to every subscriber of a room
type Event struct {
	Name string          `json:"event"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an event addressed to room
func NewEvent(name, room string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s event: %w", name, err)
	}
	return Event{Name: name, Room: room, Data: raw}, nil
}

// Publisher broadcasts events to a room
type Publisher interface {
	Publish(ctx context.Context, room string, ev Event) error
}

// Subscription receives the events of one room until closed
type Subscription struct {
	ID   string
	Room string
	C    <-chan Event

	ch   chan Event
	hub  *Hub
	once sync.Once
}

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub is an in-process room based pub/sub. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Subscription
	closed bool

	buffer int
	logger *zap.Logger
}

// New creates a hub whose subscriptions buffer up to buffer events
func New(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger.With(zap.String("component", "hub")),
	}
}

// Subscribe joins room. Events published after Subscribe returns are delivered.
func (h *Hub) Subscribe(room string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{
		ID:   uuid.NewString(),
		Room: room,
		C:    ch,
		ch:   ch,
		hub:  h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Subscription)
		h.rooms[room] = members
	}
	members[sub.ID] = sub

	h.logger.Debug("subscriber joined", zap.String("room", room), zap.String("subscription", sub.ID))
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[sub.Room]; ok {
		if _, ok := members[sub.ID]; ok {
			delete(members, sub.ID)
			close(sub.ch)
		}
		if len(members) == 0 {
			delete(h.rooms, sub.Room)
		}
	}
	h.logger.Debug("subscriber left", zap.String("room", sub.Room), zap.String("subscription", sub.ID))
}

// Publish delivers ev to the current members of room
func (h *Hub) Publish(_ context.Context, room string, ev Event) error {
	h.Deliver(room, ev)
	return nil
}

// Deliver fans ev out to room and returns how many subscribers received it
func (h *Hub) Deliver(room string, ev Event) int {
	if ev.Room == "" {
		ev.Room = room
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.rooms[room] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			h.logger.Debug("dropping event for slow subscriber",
				zap.String("room", room),
				zap.String("event", ev.Name),
				zap.String("subscription", sub.ID))
		}
	}
	return delivered
}

// Subscribers reports how many subscriptions room currently has
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the subscriber count of every non-empty room
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		out[room] = len(members)
	}
	return out
}

// Close ends every subscription; later subscriptions start closed
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for room, members := range h.rooms {
		for id, sub := range members {
			close(sub.ch)
			delete(members, id)
		}
		delete(h.rooms, room)
	}
}
