// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// EventType represents the type of event.
type EventType string

const (
	// Detection events
	SandwichDetected  EventType = "detection.sandwich"
	ArbitrageDetected EventType = "detection.arbitrage"

	// Feed events
	BundleReceived     EventType = "bundle.received"
	StreamStateChanged EventType = "stream.state_changed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// DetectionEvent is emitted for every new sandwich or arbitrage.
type DetectionEvent struct {
	BaseEvent
	Detection types.Detection
}

// NewDetectionEvent wraps d with the matching event type.
func NewDetectionEvent(d types.Detection) DetectionEvent {
	typ := ArbitrageDetected
	if d.Sandwich != nil {
		typ = SandwichDetected
	}
	return DetectionEvent{
		BaseEvent: BaseEvent{EventType: typ, EventTime: d.Time()},
		Detection: d,
	}
}

// BundleEvent is emitted for every bundle received from the bundle feed.
type BundleEvent struct {
	BaseEvent
	Bundle types.Bundle
}

// NewBundleEvent wraps b.
func NewBundleEvent(b types.Bundle) BundleEvent {
	return BundleEvent{
		BaseEvent: BaseEvent{EventType: BundleReceived, EventTime: b.Timestamp},
		Bundle:    b,
	}
}

// StreamStateEvent is emitted when a stream source changes connection state.
type StreamStateEvent struct {
	BaseEvent
	Feed  types.FeedKind
	State string
}

// NewStreamStateEvent reports feed entering state at t.
func NewStreamStateEvent(feed types.FeedKind, state string, t time.Time) StreamStateEvent {
	return StreamStateEvent{
		BaseEvent: BaseEvent{EventType: StreamStateChanged, EventTime: t},
		Feed:      feed,
		State:     state,
	}
}
