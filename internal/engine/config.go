// internal/engine/config.go
package engine

import (
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/rovshanmuradov/mev-detector/internal/dex"
	"github.com/rovshanmuradov/mev-detector/internal/events"
	"github.com/rovshanmuradov/mev-detector/internal/utils/metrics"
)

// Config sizes the engine stores and workers.
type Config struct {
	FetchTimeout    time.Duration
	Workers         int
	QueueSize       int
	HistoryCapacity int
	BundleCapacity  int
	SandwichWindow  time.Duration
	StatsInterval   time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:    10 * time.Second,
		Workers:         8,
		QueueSize:       1024,
		HistoryCapacity: 1000,
		BundleCapacity:  100,
		SandwichWindow:  500 * time.Millisecond,
		StatsInterval:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = d.HistoryCapacity
	}
	if c.BundleCapacity <= 0 {
		c.BundleCapacity = d.BundleCapacity
	}
	if c.SandwichWindow <= 0 {
		c.SandwichWindow = d.SandwichWindow
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = d.StatsInterval
	}
	return c
}

// Option customizes an Engine.
type Option func(*options)

type options struct {
	registry   *dex.Registry
	metrics    *metrics.Collector
	dispatcher *events.Dispatcher
	clock      clock.Clock
}

// WithRegistry sets the DEX program table used by the parser.
func WithRegistry(r *dex.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMetrics records engine activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithDispatcher shares an existing dispatcher instead of creating one.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithClock sets the clock driving the stats reporter.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}
