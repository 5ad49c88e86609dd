// Package broadcast fans session invalidations out to every API instance so
// long-poll waiters parked on one instance learn about revocations made on another.
package broadcast

import (
	"context"
	"sync"
)

// Handler receives the id of an invalidated session.
type Handler func(sessionID string)

// Bus publishes and receives session invalidation events.
type Bus interface {
	Publish(ctx context.Context, sessionID string) error
	// Subscribe delivers events to handle until ctx is cancelled. It blocks.
	Subscribe(ctx context.Context, handle Handler) error
	Close() error
}

// Noop is the bus used by single-instance deployments.
type Noop struct{}

func (Noop) Publish(context.Context, string) error { return nil }

func (Noop) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (Noop) Close() error { return nil }

// Local is an in-process bus. Every subscriber receives every event.
type Local struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	next     int
}

// NewLocal returns an empty in-process bus.
func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

func (l *Local) Publish(_ context.Context, sessionID string) error {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(sessionID)
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, handle Handler) error {
	l.mu.Lock()
	id := l.next
	l.next++
	l.handlers[id] = handle
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.handlers, id)
	l.mu.Unlock()
	return nil
}

// Subscribers returns the number of active subscriptions.
func (l *Local) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

func (l *Local) Close() error { return nil }
