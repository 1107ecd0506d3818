package events

import (
	"log/slog"
	"sync"
	"time"
)

// subscriberQueue is the per-subscriber bound. A queue this deep that still
// overflows means the client is not reading; progress messages are shed
// first, and a subscriber that overflows on lifecycle traffic is closed.
const subscriberQueue = 256

// Subscriber is one connected client's view of the hub. Out is closed by
// the hub when the subscriber is removed or cannot keep up.
type Subscriber struct {
	ID  string
	Out chan Message

	mu     sync.Mutex
	rooms  map[string]bool
	closed bool
}

func (s *Subscriber) roomNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		names = append(names, r)
	}
	return names
}

// Hub routes messages to rooms. Room membership takes the write lock;
// publishing takes the read lock, so concurrent emits never contend.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]bool)}
}

// NewSubscriber registers a subscriber with no room memberships.
func (h *Hub) NewSubscriber(id string) *Subscriber {
	return &Subscriber{
		ID:    id,
		Out:   make(chan Message, subscriberQueue),
		rooms: make(map[string]bool),
	}
}

// Join adds the subscriber to a room.
func (h *Hub) Join(s *Subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Subscriber]bool)
	}
	h.rooms[room][s] = true

	s.mu.Lock()
	s.rooms[room] = true
	s.mu.Unlock()
}

// Leave removes the subscriber from a room.
func (h *Hub) Leave(s *Subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, room)
}

func (h *Hub) leaveLocked(s *Subscriber, room string) {
	if subs := h.rooms[room]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

// Remove drops the subscriber from every room and closes its channel.
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	for _, room := range s.roomNames() {
		h.leaveLocked(s, room)
	}
	h.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Out)
	}
}

// Publish delivers a message to every subscriber of a room, stamping the
// emission time. Delivery never blocks the caller: a full subscriber sheds
// the message when it is progress-class, otherwise the subscriber is
// removed and recovers state on reconnect.
func (h *Hub) Publish(room, msgType string, payload map[string]any) {
	msg := Message{Type: msgType, Timestamp: time.Now().UTC(), Payload: payload}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var overflowed []*Subscriber
	for _, s := range subs {
		if !s.trySend(msg) {
			if msg.Droppable() {
				continue
			}
			overflowed = append(overflowed, s)
		}
	}
	for _, s := range overflowed {
		slog.Warn("subscriber cannot keep up, closing", "subscriber", s.ID, "room", room, "type", msgType)
		h.Remove(s)
	}
}

// Send delivers a message to one subscriber outside any room (session
// replies: authenticated, snapshots, errors).
func (h *Hub) Send(s *Subscriber, msgType string, payload map[string]any) {
	msg := Message{Type: msgType, Timestamp: time.Now().UTC(), Payload: payload}
	if !s.trySend(msg) && !msg.Droppable() {
		slog.Warn("subscriber cannot keep up, closing", "subscriber", s.ID, "type", msgType)
		h.Remove(s)
	}
}

func (s *Subscriber) trySend(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true // already gone, nothing to shed
	}
	select {
	case s.Out <- msg:
		return true
	default:
		return false
	}
}

// RoomSize reports the subscriber count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
