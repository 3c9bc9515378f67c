// internal/sink/sink.go
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/events"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// DefaultWriteTimeout bounds a single sink write.
const DefaultWriteTimeout = 5 * time.Second

// Sink persists or forwards detections.
type Sink interface {
	Name() string
	WriteDetection(ctx context.Context, d types.Detection) error
	Close() error
}

// BundleSink is implemented by sinks that also record bundles.
type BundleSink interface {
	WriteBundle(ctx context.Context, b types.Bundle) error
}

// Set is a group of sinks attached to one dispatcher.
type Set struct {
	sinks  []Sink
	subs   []events.Subscription
	logger *zap.Logger
}

// Attach subscribes every sink to d. Bundles are delivered to sinks that
// implement BundleSink.
func Attach(d *events.Dispatcher, logger *zap.Logger, sinks ...Sink) *Set {
	s := &Set{sinks: sinks, logger: logger.Named("sinks")}

	for _, sk := range sinks {
		sk := sk
		s.subs = append(s.subs, d.SubscribeFunc("sink."+sk.Name(), func(ctx context.Context, e events.Event) error {
			de, ok := e.(events.DetectionEvent)
			if !ok {
				return nil
			}
			ctx, cancel := writeContext(ctx)
			defer cancel()
			return sk.WriteDetection(ctx, de.Detection)
		}, events.SandwichDetected, events.ArbitrageDetected))

		bs, ok := sk.(BundleSink)
		if !ok {
			continue
		}
		s.subs = append(s.subs, d.SubscribeFunc("sink."+sk.Name()+".bundles", func(ctx context.Context, e events.Event) error {
			be, ok := e.(events.BundleEvent)
			if !ok {
				return nil
			}
			ctx, cancel := writeContext(ctx)
			defer cancel()
			return bs.WriteBundle(ctx, be.Bundle)
		}, events.BundleReceived))
	}

	s.logger.Info("Sinks attached", zap.Int("count", len(sinks)))
	return s
}

// Len returns the number of attached sinks.
func (s *Set) Len() int {
	return len(s.sinks)
}

// Close unsubscribes every sink and closes them in reverse order.
func (s *Set) Close() error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil

	var errs []error
	for i := len(s.sinks) - 1; i >= 0; i-- {
		if err := s.sinks[i].Close(); err != nil {
			s.logger.Error("Failed to close sink",
				zap.String("sink", s.sinks[i].Name()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, DefaultWriteTimeout)
}

// encode renders d as the JSON document published by message sinks.
func encode(d types.Detection) ([]byte, error) {
	return json.Marshal(d)
}
