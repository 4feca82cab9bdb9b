// Package hub routes events from listeners to the collectors subscribed to
// them, one event at a time.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"landscaper/internal/metrics"
)

// Event is a named occurrence with an opaque payload
type Event struct {
	Name string
	// Body is JSON for bus notifications and a file path for filesystem
	// events.
	Body []byte
	At   time.Time
}

// Timestamp returns the event time in Unix seconds.
func (e Event) Timestamp() int64 {
	if e.At.IsZero() {
		return time.Now().Unix()
	}
	return e.At.Unix()
}

// Subscriber receives the events it subscribed to
type Subscriber interface {
	Name() string
	Update(ctx context.Context, ev Event) error
}

// Dispatcher accepts events for delivery
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Listener produces events from an outside source until its context ends
type Listener interface {
	Name() string
	// Events lists the event names the listener emits.
	Events() []string
	Listen(ctx context.Context) error
}

// Hub delivers events to subscribers in the order they were dispatched
type Hub struct {
	mu      sync.RWMutex
	events  map[string][]Subscriber
	queue   chan Event
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a hub with a queue of the given capacity
func New(logger *zap.Logger, m *metrics.Registry, capacity int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		events:  make(map[string][]Subscriber),
		queue:   make(chan Event, capacity),
		logger:  logger.With(zap.String("component", "hub")),
		metrics: m,
	}
}

// RegisterEvent makes events available for subscription.
func (h *Hub) RegisterEvent(names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range names {
		if _, ok := h.events[name]; !ok {
			h.events[name] = nil
		}
	}
}

// Subscribe adds s to the subscribers of a registered event. Subscribing
// twice is a no-op.
func (h *Hub) Subscribe(name string, s Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.events[name]
	if !ok {
		return fmt.Errorf("unknown event %q", name)
	}
	for _, existing := range subs {
		if existing == s {
			return nil
		}
	}
	h.events[name] = append(subs, s)
	return nil
}

// Events returns the registered event names
func (h *Hub) Events() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.events))
	for name := range h.events {
		names = append(names, name)
	}
	return names
}

// Dispatch queues ev, blocking while the queue is full.
func (h *Hub) Dispatch(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case h.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers queued events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case ev := <-h.queue:
			h.Deliver(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// Deliver hands ev to each subscriber in subscription order and returns the
// number of subscribers that handled it without error. A failing subscriber
// does not stop delivery to the rest.
func (h *Hub) Deliver(ctx context.Context, ev Event) int {
	h.mu.RLock()
	subs := append([]Subscriber(nil), h.events[ev.Name]...)
	h.mu.RUnlock()

	if len(subs) == 0 {
		h.logger.Debug("event has no subscribers", zap.String("event", ev.Name))
		h.metrics.EventsTotal.WithLabelValues(ev.Name, "unrouted").Inc()
		return 0
	}

	delivered := 0
	for _, s := range subs {
		if err := s.Update(ctx, ev); err != nil {
			h.logger.Error("subscriber failed",
				zap.String("event", ev.Name),
				zap.String("subscriber", s.Name()),
				zap.Error(err))
			h.metrics.EventsTotal.WithLabelValues(ev.Name, "failed").Inc()
			continue
		}
		h.metrics.EventsTotal.WithLabelValues(ev.Name, "delivered").Inc()
		delivered++
	}
	return delivered
}
