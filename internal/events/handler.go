// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes events. Handlers run on the publisher's goroutine and should not block.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as event handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription represents a subscription to events.
type Subscription interface {
	// ID returns the unique subscription id.
	ID() string
	// Unsubscribe removes the subscription.
	Unsubscribe()
}

// subscription is the internal implementation of Subscription.
type subscription struct {
	id         string
	dispatcher *Dispatcher
}

func (s *subscription) ID() string {
	return s.id
}

// Unsubscribe removes this subscription from the dispatcher.
func (s *subscription) Unsubscribe() {
	s.dispatcher.unsubscribe(s.id)
}
