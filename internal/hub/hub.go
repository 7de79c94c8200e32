// Package hub fans out quiz lifecycle and ranking events to observers.
// Each quiz has two rooms: one for its participants and one for admins.
package hub

import "sync"

// Kind distinguishes the two room flavours of a quiz.
type Kind string

const (
	KindParticipants Kind = "participants"
	KindAdmins       Kind = "admins"
)

// Room is a logical broadcast group scoped to one quiz.
type Room struct {
	QuizID string
	Kind   Kind
}

// Participants is the room for everyone who joined the quiz.
func Participants(quizID string) Room { return Room{QuizID: quizID, Kind: KindParticipants} }

// Admins is the room for elevated observers of the quiz.
func Admins(quizID string) Room { return Room{QuizID: quizID, Kind: KindAdmins} }

// Event is a named payload delivered to room subscribers.
type Event struct {
	Name    string `json:"type"`
	Payload any    `json:"payload"`
}

const subscriberBuffer = 16

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) closeOnce() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is a process-scoped broadcast service, constructed once at startup and
// passed by reference into the components that publish through it.
type Hub struct {
	mu    sync.Mutex
	rooms map[Room]map[*subscriber]struct{}
}

func New() *Hub {
	return &Hub{rooms: make(map[Room]map[*subscriber]struct{})}
}

// Subscribe joins room and returns the event channel plus a cancel function.
// Cancel is idempotent and must be called on disconnect; the channel is
// closed once the subscription is gone.
func (h *Hub) Subscribe(room Room) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	subs, ok := h.rooms[room]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.remove(room, sub)
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every current subscriber of room, in publish
// order. A room with no subscribers is a no-op. A subscriber whose buffer is
// full is dropped rather than allowed to stall or reorder delivery for the
// rest of the room; dropped subscribers see their channel close, the same
// signal as a disconnect.
func (h *Hub) Publish(room Room, name string, payload any) {
	ev := Event{Name: name, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[room] {
		select {
		case sub.ch <- ev:
		default:
			h.remove(room, sub)
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(room Room, sub *subscriber) {
	subs, ok := h.rooms[room]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, room)
	}
	sub.closeOnce()
}

// Subscribers reports the current subscriber count of room.
func (h *Hub) Subscribers(room Room) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
