// internal/stream/config.go
package stream

import (
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gorilla/websocket"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Config configures a stream source.
type Config struct {
	// Endpoint is the websocket URL for bundle and log feeds.
	Endpoint string

	// Programs are the program ids the log feed and the poller subscribe to.
	Programs []string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Multiplier        float64
	// Jitter is the randomization factor applied to every reconnect delay.
	Jitter float64

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration

	PollInterval time.Duration
	PollLimit    int
}

// DefaultConfig returns the default stream configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    5 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		Multiplier:        2,
		Jitter:            0.2,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		PollInterval:      2 * time.Second,
		PollLimit:         25,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = def.MaxReconnectDelay
		if c.MaxReconnectDelay < c.ReconnectDelay {
			c.MaxReconnectDelay = c.ReconnectDelay
		}
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = def.Jitter
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollLimit <= 0 {
		c.PollLimit = def.PollLimit
	}
	return c
}

// Option customizes a source or poller.
type Option func(*options)

type options struct {
	clock   clock.Clock
	dialer  *websocket.Dialer
	onState []func(types.FeedKind, State)
}

// WithClock injects the clock used for timestamps, backoff timers and tickers.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithStateHook registers fn to be called on every state transition.
func WithStateHook(fn func(feed types.FeedKind, state State)) Option {
	return func(o *options) {
		o.onState = append(o.onState, fn)
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
