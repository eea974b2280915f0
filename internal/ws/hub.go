// Package ws fans deployment progress events out to live subscribers.
package ws

import "sync"

// Subscriber is one live listener on a project's deployment stream.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub tracks subscribers per project. Broadcast drops subscribers whose
// send fails; a stream with no listeners costs nothing.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{streams: make(map[string]map[Subscriber]struct{})}
}

// Register attaches a subscriber to a project's stream.
func (h *Hub) Register(projectID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[projectID] == nil {
		h.streams[projectID] = make(map[Subscriber]struct{})
	}
	h.streams[projectID][sub] = struct{}{}
}

// Unregister detaches a subscriber. Safe to call for an already-removed one.
func (h *Hub) Unregister(projectID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.streams[projectID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.streams, projectID)
		}
	}
}

// Broadcast delivers payload to every subscriber of the project's stream.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.streams[projectID]))
	for sub := range h.streams[projectID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			sub.Close()
			h.Unregister(projectID, sub)
		}
	}
}

// Subscribers reports the current listener count for a project.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[projectID])
}
