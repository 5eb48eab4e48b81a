// Package events provides a simple publish-subscribe event bus for SSE delivery.
package events

import (
	"sync"
	"time"
)

const subBufferSize = 8

// Kind classifies a dashboard event.
type Kind string

const (
	KindFetched     Kind = "fetched"
	KindFetchFailed Kind = "fetch_failed"
	KindRateLimited Kind = "rate_limited"
	KindDisplayed   Kind = "displayed"
	KindJobStarted  Kind = "job_started"
	KindJobFinished Kind = "job_finished"
)

// Event is one thing that happened in the dashboard.
type Event struct {
	Kind    Kind      `json:"kind"`
	Source  string    `json:"source,omitempty"`
	Job     string    `json:"job,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Bus is a non-blocking publish-subscribe event bus.
// Subscribers that are slow to consume events will have events dropped rather
// than blocking publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
	now  func() time.Time
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
		now:  time.Now,
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends ev to all subscribers, stamping Time when it is zero.
// If a subscriber's channel is full, the event is dropped (non-blocking).
// A nil Bus discards events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
