package hub

import (
	"fmt"
	"testing"
	"time"
)

func TestPublishReachesRoomSubscribers(t *testing.T) {
	h := New()
	room := Participants("quiz-1")

	ch, cancel := h.Subscribe(room)
	defer cancel()

	h.Publish(room, "server:start", map[string]any{"startAt": 123})

	select {
	case ev := <-ch:
		if ev.Name != "server:start" {
			t.Fatalf("expected server:start, got %s", ev.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	h := New()

	participants, cancelP := h.Subscribe(Participants("quiz-1"))
	defer cancelP()
	admins, cancelA := h.Subscribe(Admins("quiz-1"))
	defer cancelA()
	other, cancelO := h.Subscribe(Participants("quiz-2"))
	defer cancelO()

	h.Publish(Admins("quiz-1"), "server:rankingUpdate", nil)

	select {
	case <-admins:
	case <-time.After(time.Second):
		t.Fatal("admin room did not receive event")
	}
	select {
	case ev := <-participants:
		t.Fatalf("participant room received %s", ev.Name)
	default:
	}
	select {
	case ev := <-other:
		t.Fatalf("other quiz received %s", ev.Name)
	default:
	}
}

func TestEventsArriveInPublishOrder(t *testing.T) {
	h := New()
	room := Participants("quiz-1")
	ch, cancel := h.Subscribe(room)
	defer cancel()

	for i := 0; i < 10; i++ {
		h.Publish(room, fmt.Sprintf("ev-%d", i), nil)
	}
	for i := 0; i < 10; i++ {
		ev := <-ch
		if want := fmt.Sprintf("ev-%d", i); ev.Name != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, ev.Name)
		}
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := New()
	room := Participants("quiz-1")
	ch, cancel := h.Subscribe(room)
	defer cancel()

	// One past the buffer; the overflowing publish evicts the subscriber.
	for i := 0; i <= subscriberBuffer; i++ {
		h.Publish(room, "server:progress", nil)
	}

	if got := h.Subscribers(room); got != 0 {
		t.Fatalf("expected subscriber dropped, still %d in room", got)
	}

	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Fatalf("expected %d buffered events before close, got %d", subscriberBuffer, received)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := New()
	room := Admins("quiz-1")
	ch, cancel := h.Subscribe(room)

	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}
	if got := h.Subscribers(room); got != 0 {
		t.Fatalf("expected empty room, got %d", got)
	}

	// Publishing into an empty room is a no-op.
	h.Publish(room, "server:end", nil)
}
