package notify

import (
	"context"
	"sync"

	"github.com/creditdesk/creditdesk/internal/logger"
)

const subscriberBuffer = 32

// Hub broadcasts messages to in-process subscribers such as websocket
// connections. Slow subscribers lose messages instead of blocking the hub.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	log    *logger.Logger
	closed bool
}

// Subscription receives messages for one application, or all of them when
// ApplicationID is empty.
type Subscription struct {
	ApplicationID string
	C             <-chan Message
	ch            chan Message
	hub           *Hub
	once          sync.Once
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{subs: make(map[*Subscription]struct{}), log: log.With("service", "Hub")}
}

func (h *Hub) Name() string { return "hub" }

// Subscribe registers a new subscriber. Call Close when done.
func (h *Hub) Subscribe(applicationID string) *Subscription {
	ch := make(chan Message, subscriberBuffer)
	s := &Subscription{ApplicationID: applicationID, C: ch, ch: ch, hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if _, ok := s.hub.subs[s]; ok {
			delete(s.hub.subs, s)
			close(s.ch)
		}
	})
}

// Notify delivers msg to matching subscribers. It never fails.
func (h *Hub) Notify(ctx context.Context, msg Message) error {
	h.Broadcast(msg)
	return nil
}

func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.ApplicationID != "" && s.ApplicationID != msg.ApplicationID {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			h.log.Warn("dropping message for slow subscriber", "application_id", msg.ApplicationID, "ref_id", msg.RefID)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
	h.closed = true
}
