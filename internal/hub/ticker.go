package hub

import (
	"context"
	"time"
)

// Ticker is a Listener that emits one event per interval
type Ticker struct {
	name     string
	event    string
	interval time.Duration
	out      Dispatcher
}

// NewTicker creates a ticker emitting event every interval
func NewTicker(name, event string, interval time.Duration, out Dispatcher) *Ticker {
	return &Ticker{name: name, event: event, interval: interval, out: out}
}

// Name implements Listener
func (t *Ticker) Name() string { return t.name }

// Events implements Listener
func (t *Ticker) Events() []string { return []string{t.event} }

// Listen implements Listener
func (t *Ticker) Listen(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if err := t.out.Dispatch(ctx, Event{Name: t.event, At: now}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
