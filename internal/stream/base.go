// internal/stream/base.go
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Stream is the handle shared by websocket sources and the poller.
type Stream interface {
	Kind() types.FeedKind
	OnMessage(h Handler)
	Run(ctx context.Context) error
	IsConnected() bool
	State() State
	Close() error
}

// base holds the delivery, state and shutdown machinery common to every stream.
type base struct {
	kind   types.FeedKind
	logger *zap.Logger
	clock  clock.Clock
	hooks  []func(types.FeedKind, State)

	state   atomic.Int32
	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}

	handlersMu sync.RWMutex
	handlers   []Handler

	// held for reading while handlers run; Close takes it for writing
	deliverMu sync.RWMutex

	stampMu sync.Mutex
	lastTS  time.Time
	seq     uint64
}

func newBase(kind types.FeedKind, logger *zap.Logger, o options) *base {
	return &base{
		kind:   kind,
		logger: logger,
		clock:  o.clock,
		hooks:  o.onState,
		done:   make(chan struct{}),
	}
}

func (b *base) Kind() types.FeedKind {
	return b.kind
}

// OnMessage registers h. Handlers run on the stream goroutine in registration order.
func (b *base) OnMessage(h Handler) {
	b.handlersMu.Lock()
	b.handlers = append(b.handlers, h)
	b.handlersMu.Unlock()
}

// State returns the current connection state.
func (b *base) State() State {
	return State(b.state.Load())
}

// IsConnected is true only while the stream is connected and subscribed.
func (b *base) IsConnected() bool {
	return b.State() == StateConnected
}

func (b *base) setState(st State) {
	for {
		old := State(b.state.Load())
		if old == st || old == StateClosed {
			return
		}
		if b.state.CompareAndSwap(int32(old), int32(st)) {
			b.logger.Debug("Stream state changed",
				zap.String("from", old.String()),
				zap.String("to", st.String()))
			for _, hook := range b.hooks {
				hook(b.kind, st)
			}
			return
		}
	}
}

// stamp assigns arrival timestamps and sequence numbers.
func (b *base) stamp(msg *Message) {
	now := b.clock.Now()

	b.stampMu.Lock()
	defer b.stampMu.Unlock()

	if now.Before(b.lastTS) {
		now = b.lastTS
	}
	b.lastTS = now

	if msg.Bundle != nil {
		msg.Bundle.Timestamp = now
	}
	for i := range msg.Events {
		b.seq++
		msg.Events[i].Timestamp = now
		msg.Events[i].Seq = b.seq
	}
}

func (b *base) deliver(msg *Message) {
	b.deliverMu.RLock()
	defer b.deliverMu.RUnlock()

	if b.closed.Load() {
		return
	}
	b.stamp(msg)

	b.handlersMu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, *msg)
	}
}

func (b *base) invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Message handler panicked", zap.Any("panic", r))
		}
	}()
	h(msg)
}

// markClosed flips the closed flag once and wakes every waiter.
func (b *base) markClosed() bool {
	if b.closed.Swap(true) {
		return false
	}
	close(b.done)
	return true
}

// drain waits for in-flight handlers. Must not be called from a handler.
func (b *base) drain() {
	b.deliverMu.Lock()
	b.deliverMu.Unlock()
	b.setState(StateClosed)
}

// wait blocks for d. It returns false when the stream is closed or ctx ends first.
func (b *base) wait(ctx context.Context, d time.Duration) bool {
	t := b.clock.Timer(d)
	defer t.Stop()
	return b.waitTimer(ctx, t)
}

// enterBackoff enters StateBackoff for d. The timer exists before the state is
// published so an observer of StateBackoff can advance a mock clock safely.
func (b *base) enterBackoff(ctx context.Context, d time.Duration) bool {
	t := b.clock.Timer(d)
	defer t.Stop()
	b.setState(StateBackoff)
	return b.waitTimer(ctx, t)
}

func (b *base) waitTimer(ctx context.Context, t *clock.Timer) bool {
	select {
	case <-t.C:
		return !b.closed.Load()
	case <-b.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *base) stopped(ctx context.Context) bool {
	return b.closed.Load() || ctx.Err() != nil
}

func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectDelay
	bo.MaxInterval = cfg.MaxReconnectDelay
	bo.Multiplier = cfg.Multiplier
	bo.RandomizationFactor = cfg.Jitter
	bo.Reset()
	return bo
}
