// internal/events/dispatcher.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Dispatcher fans events out to subscribers synchronously, in registration
// order. A failing subscriber never stops delivery to the others.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []*registration
	logger *zap.Logger

	statsMu   sync.Mutex
	delivered uint64
	failed    uint64
}

type registration struct {
	id      string
	name    string
	filter  map[EventType]struct{}
	handler Handler
}

func (r *registration) accepts(t EventType) bool {
	if len(r.filter) == 0 {
		return true
	}
	_, ok := r.filter[t]
	return ok
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.Named("dispatcher"),
	}
}

// Subscribe registers handler under name for the given event types, or for
// every event when none are given.
func (d *Dispatcher) Subscribe(name string, handler Handler, eventTypes ...EventType) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.New().String()
	reg := &registration{id: id, name: name, handler: handler}
	if len(eventTypes) > 0 {
		reg.filter = make(map[EventType]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			reg.filter[t] = struct{}{}
		}
	}
	d.subs = append(d.subs, reg)

	d.logger.Debug("Handler subscribed",
		zap.String("name", name),
		zap.String("subscription_id", id),
		zap.Int("event_types", len(eventTypes)))

	return &subscription{id: id, dispatcher: d}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (d *Dispatcher) SubscribeFunc(name string, fn func(context.Context, Event) error, eventTypes ...EventType) Subscription {
	return d.Subscribe(name, HandlerFunc(fn), eventTypes...)
}

// OnDetection registers fn for sandwich and arbitrage detections.
func (d *Dispatcher) OnDetection(name string, fn func(types.Detection) error) Subscription {
	return d.SubscribeFunc(name, func(_ context.Context, e Event) error {
		de, ok := e.(DetectionEvent)
		if !ok {
			return nil
		}
		return fn(de.Detection)
	}, SandwichDetected, ArbitrageDetected)
}

// OnBundle registers fn for bundles.
func (d *Dispatcher) OnBundle(name string, fn func(types.Bundle) error) Subscription {
	return d.SubscribeFunc(name, func(_ context.Context, e Event) error {
		be, ok := e.(BundleEvent)
		if !ok {
			return nil
		}
		return fn(be.Bundle)
	}, BundleReceived)
}

// Publish delivers event to every matching subscriber in registration order.
// Errors and panics are wrapped in *types.SubscriberError, logged and joined
// into the returned error.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	// copy so handlers can subscribe or unsubscribe while we deliver
	subs := make([]*registration, 0, len(d.subs))
	for _, r := range d.subs {
		if r.accepts(event.Type()) {
			subs = append(subs, r)
		}
	}
	d.mu.RUnlock()

	var errs []error
	for _, r := range subs {
		if err := d.deliver(ctx, r, event); err != nil {
			subErr := &types.SubscriberError{
				Subscriber: r.name,
				EventType:  string(event.Type()),
				Err:        err,
			}
			d.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler", r.name),
				zap.String("handler_id", r.id),
				zap.Error(err))
			errs = append(errs, subErr)
		}
	}

	d.statsMu.Lock()
	d.delivered += uint64(len(subs) - len(errs))
	d.failed += uint64(len(errs))
	d.statsMu.Unlock()

	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, r *registration, event Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", types.ErrSubscriberPanic, rec)
		}
	}()
	return r.handler.Handle(ctx, event)
}

// unsubscribe removes a handler subscription.
func (d *Dispatcher) unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, r := range d.subs {
		if r.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			d.logger.Debug("Handler unsubscribed",
				zap.String("name", r.name),
				zap.String("subscription_id", id))
			return
		}
	}
}

// Len returns the number of active subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Stats returns statistics about the dispatcher.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.RLock()
	handlerCounts := make(map[string]int)
	for _, r := range d.subs {
		if len(r.filter) == 0 {
			handlerCounts["*"]++
			continue
		}
		for t := range r.filter {
			handlerCounts[string(t)]++
		}
	}
	subscribers := len(d.subs)
	d.mu.RUnlock()

	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	return map[string]interface{}{
		"subscribers":       subscribers,
		"handlers_per_type": handlerCounts,
		"delivered":         d.delivered,
		"failed":            d.failed,
	}
}
