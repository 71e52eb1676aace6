package events

import (
	"context"
	"sync"
)

// Nop discards events. It stands in for the broker when RabbitMQ is unavailable.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) IsHealthy() bool                      { return true }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) IsHealthy() bool { return true }
func (r *Recorder) Close() error    { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the event types published so far, in order.
func (r *Recorder) Types() []string {
	var types []string
	for _, e := range r.Events() {
		types = append(types, e.EventType)
	}
	return types
}
