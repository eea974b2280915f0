package ws

import (
	"errors"
	"testing"
)

type stubSubscriber struct {
	received [][]byte
	sendErr  error
	closed   bool
}

func (s *stubSubscriber) Send(payload []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.received = append(s.received, payload)
	return nil
}

func (s *stubSubscriber) Close() { s.closed = true }

func TestBroadcastScopedToProject(t *testing.T) {
	hub := NewHub()
	a := &stubSubscriber{}
	b := &stubSubscriber{}
	hub.Register("proj-a", a)
	hub.Register("proj-b", b)

	hub.Broadcast("proj-a", []byte("hello"))

	if len(a.received) != 1 || string(a.received[0]) != "hello" {
		t.Fatalf("subscriber a got %v", a.received)
	}
	if len(b.received) != 0 {
		t.Fatalf("subscriber b must not receive other projects' events: %v", b.received)
	}
}

func TestBroadcastDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	broken := &stubSubscriber{sendErr: errors.New("gone")}
	healthy := &stubSubscriber{}
	hub.Register("proj-a", broken)
	hub.Register("proj-a", healthy)

	hub.Broadcast("proj-a", []byte("one"))

	if !broken.closed {
		t.Fatal("failing subscriber not closed")
	}
	if hub.Subscribers("proj-a") != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", hub.Subscribers("proj-a"))
	}
	hub.Broadcast("proj-a", []byte("two"))
	if len(healthy.received) != 2 {
		t.Fatalf("healthy subscriber got %d events", len(healthy.received))
	}
}

func TestUnregisterRemovesEmptyStream(t *testing.T) {
	hub := NewHub()
	sub := &stubSubscriber{}
	hub.Register("proj-a", sub)
	hub.Unregister("proj-a", sub)

	if hub.Subscribers("proj-a") != 0 {
		t.Fatal("stream should be empty after unregister")
	}
	// Broadcasting into an empty stream is a no-op, not a panic.
	hub.Broadcast("proj-a", []byte("late"))
}
