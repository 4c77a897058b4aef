// Package realtime pushes events to connected clients.
//
// ROOMS:
// Every authenticated connection joins the room named after its user id.
// Sending "to a user" means emitting to that room, so a user with several
// tabs or devices gets the event on each of them, and a user with none
// simply misses it (messages are durable in the store; the push is only a
// notification).
//
// LAYERS:
//
//	Publisher     what services depend on: Publish(ctx, room, event, payload)
//	Hub           in-process rooms of sessions (single instance)
//	RedisBroker   Publisher that fans out through Redis pub/sub to the Hub of
//	              every instance (several instances behind a load balancer)
//	Server        the /ws endpoint: websocket upgrade, auth, client frames
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Event names exchanged with clients.
const (
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
	EventJoin           = "join"
	EventError          = "error"
)

// Publisher delivers an event to every session in a room. Delivery is best
// effort: callers log a returned error and carry on.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Frame is the wire shape of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeFrame marshals payload once so it can be shared by all recipients.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("realtime: encoding %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// DefaultSendBuffer is the per-session queue length.
const DefaultSendBuffer = 32

// Session is one connected client. Outgoing frames are queued on a buffered
// channel drained by the connection's writer goroutine.
type Session struct {
	ID     string
	UserID string

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a session with a fresh uuid and a queue of buffer
// frames.
func NewSession(userID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Outbound is the queue the writer drains.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close marks the session finished. It is safe to call more than once. The
// send channel is never closed, so a concurrent enqueue cannot panic.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// enqueue never blocks; it reports false when the queue is full or the
// session is closed.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Hub holds the rooms of this process.
//
// The mutex guards only the room map. Emit copies the recipient list under
// the read lock and enqueues after releasing it, so a slow client never
// holds the lock and never blocks the emitter.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Session]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Session]struct{}),
		logger: logger,
	}
}

var _ Publisher = (*Hub)(nil)

func (h *Hub) Join(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
}

func (h *Hub) Leave(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, s)
}

// LeaveAll removes s from every room; called on disconnect.
func (h *Hub) LeaveAll(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.rooms {
		h.leaveLocked(room, s)
	}
}

func (h *Hub) leaveLocked(room string, s *Session) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Online is the number of sessions in room.
func (h *Hub) Online(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish emits locally. It satisfies Publisher for single-instance
// deployments.
func (h *Hub) Publish(_ context.Context, room, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.deliver(room, event, frame)
	return nil
}

// deliver enqueues an encoded frame on every session of room and returns
// how many sessions accepted it.
func (h *Hub) deliver(room, event string, frame []byte) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if s.enqueue(frame) {
			sent++
			continue
		}
		h.logger.Warn("realtime: dropping event for slow or closed session",
			slog.String("event", event),
			slog.String("room", room),
			slog.String("session", s.ID),
		)
	}
	return sent
}
