package realtime

import (
	"context"
	"sync"
)

const defaultClientBuffer = 64

// Subscription is one connected client.
type Subscription struct {
	C      <-chan Message
	ch     chan Message
	groups map[Group]struct{}
}

func (s *Subscription) wants(g Group) bool {
	_, ok := s.groups[g]
	return ok
}

// Hub is the in-process registry feeding streaming connections.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewHub creates an empty hub. buffer bounds each client channel.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

func (h *Hub) Name() string { return "hub" }

// Subscribe registers a client for the given groups.
func (h *Hub) Subscribe(groups []Group) *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{C: ch, ch: ch, groups: make(map[Group]struct{}, len(groups))}
	for _, g := range groups {
		sub.groups[g] = struct{}{}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the client and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Deliver fans msg out to every subscriber of its group. Slow clients miss the message.
func (h *Hub) Deliver(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(msg.Group) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}
