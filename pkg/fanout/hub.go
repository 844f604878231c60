package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const DefaultBuffer = 64

// Hub routes events to subscribers by topic (workspace id).
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
	logger zerolog.Logger
}

var _ Publisher = (*Hub)(nil)

func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger.With().Str("component", "fanout").Logger(),
	}
}

// Subscriber is one observer's bounded queue of events.
type Subscriber struct {
	hub    *Hub
	ch     chan Event
	lagged chan struct{}

	mu     sync.RWMutex
	topics map[string]struct{} // nil receives everything

	dropped atomic.Uint64
	closed  bool // guarded by hub.mu
}

// Subscribe registers an observer for the given topics.
// With no topics the subscriber receives every event.
func (h *Hub) Subscribe(topics ...string) *Subscriber {
	s := &Subscriber{
		hub:    h,
		ch:     make(chan Event, h.buffer),
		lagged: make(chan struct{}),
	}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug().Int("topics", len(topics)).Int("subscribers", n).Msg("subscriber added")
	return s
}

// Publish hands e to every interested subscriber. It never blocks: a full
// queue drops the event for that subscriber.
func (h *Hub) Publish(e Event) {
	topics := e.topics()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		if !s.wants(topics) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			if s.dropped.Add(1) == 1 {
				close(s.lagged)
			}
			h.logger.Debug().Str("type", string(e.Type)).Str("workspace_id", e.WorkspaceID).Msg("subscriber queue full, event dropped")
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscriber) wants(topics []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.topics == nil {
		return true
	}
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

// Events is closed once the subscriber is closed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Lagged is closed the first time an event is dropped for this subscriber.
func (s *Subscriber) Lagged() <-chan struct{} {
	return s.lagged
}

func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// AddTopic starts delivering events for topic. No-op for an unscoped subscriber.
func (s *Subscriber) AddTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics == nil {
		return
	}
	s.topics[topic] = struct{}{}
}

// Close unregisters the subscriber and closes its channel. Safe to call twice.
func (s *Subscriber) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(h.subs, s)
	close(s.ch)
}
