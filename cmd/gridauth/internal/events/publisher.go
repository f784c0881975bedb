// Package events publishes user lifecycle events without blocking the caller.
package events

import (
	"context"
	"log"
	"sync"
	"time"
)

// Event types
const (
	UserCreated = "user.created"
	UserUpdated = "user.updated"
)

// Event describes a change to a user record.
type Event struct {
	Type       string            `json:"type"`
	TenantID   string            `json:"tenantId"`
	UserID     string            `json:"userId"`
	Email      string            `json:"email"`
	UserType   string            `json:"userType,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Changes    map[string]Change `json:"changes,omitempty"`
}

// Change records the old and new value of one user field.
type Change struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Publisher accepts events. Publish never blocks on delivery and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Sink delivers one event to a destination.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, evt Event) error { return f(ctx, evt) }

const defaultDeliverTimeout = 5 * time.Second

// AsyncPublisher buffers events and delivers them to sinks on a background goroutine.
// When the buffer is full the event is dropped and logged.
type AsyncPublisher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncPublisher starts the delivery worker.
func NewAsyncPublisher(bufferSize int, sinks ...Sink) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	p := &AsyncPublisher{
		sinks:   sinks,
		queue:   make(chan Event, bufferSize),
		timeout: defaultDeliverTimeout,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues evt. The request context is not carried into delivery.
func (p *AsyncPublisher) Publish(_ context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.Printf("WARNING: event %s for user %s dropped: publisher closed", evt.Type, evt.UserID)
		return
	}

	select {
	case p.queue <- evt:
	default:
		log.Printf("WARNING: event %s for user %s dropped: buffer full", evt.Type, evt.UserID)
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for evt := range p.queue {
		for _, sink := range p.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			if err := sink.Deliver(ctx, evt); err != nil {
				log.Printf("ERROR: deliver event %s for user %s: %v", evt.Type, evt.UserID, err)
			}
			cancel()
		}
	}
}

// Close stops accepting events and waits for queued ones to drain or ctx to end.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes events to the standard logger.
type LogSink struct{}

// Deliver logs evt.
func (LogSink) Deliver(_ context.Context, evt Event) error {
	log.Printf("INFO: event %s tenant=%s user=%s email=%s changes=%d",
		evt.Type, evt.TenantID, evt.UserID, evt.Email, len(evt.Changes))
	return nil
}

// Discard drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Event) {}
