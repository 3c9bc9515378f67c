// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/mev-detector/internal/detector"
	"github.com/rovshanmuradov/mev-detector/internal/dex"
	"github.com/rovshanmuradov/mev-detector/internal/events"
	"github.com/rovshanmuradov/mev-detector/internal/monitor"
	"github.com/rovshanmuradov/mev-detector/internal/parser"
	"github.com/rovshanmuradov/mev-detector/internal/stream"
	"github.com/rovshanmuradov/mev-detector/internal/types"
	"github.com/rovshanmuradov/mev-detector/internal/utils/metrics"
)

// Fetcher loads a transaction by signature. A nil result with a nil error
// means the node does not know the transaction.
type Fetcher interface {
	FetchTransaction(ctx context.Context, signature string) (*types.RawTransaction, error)
}

// Engine turns stream messages into analyses and detections.
type Engine struct {
	cfg     Config
	fetcher Fetcher
	logger  *zap.Logger
	clock   clock.Clock

	parser   *parser.Parser
	sandwich *detector.SandwichDetector

	// mu serializes history inserts with detection so a transaction is
	// evaluated against a consistent history and detected at most once.
	mu         sync.RWMutex
	history    *monitor.History
	detections *monitor.DetectionLog
	bundles    *monitor.BundleRing

	dispatcher *events.Dispatcher
	metrics    *metrics.Collector

	// jobs feeds the fetch workers; order holds the same events in
	// arrival order for the sequencer, the only goroutine that applies
	// fetched results to history.
	jobs   chan *pending
	order  chan *pending
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	closed atomic.Bool

	srcMu   sync.Mutex
	sources []stream.Stream
}

// New creates an engine and starts its fetch workers.
func New(cfg Config, fetcher Fetcher, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("engine requires a transaction fetcher")
	}
	cfg = cfg.withDefaults()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = dex.DefaultRegistry()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	logger = logger.Named("engine")
	if o.dispatcher == nil {
		o.dispatcher = events.NewDispatcher(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		fetcher:    fetcher,
		logger:     logger,
		clock:      o.clock,
		parser:     parser.New(o.registry, logger),
		sandwich:   detector.NewSandwichDetector(cfg.SandwichWindow, logger),
		history:    monitor.NewHistory(cfg.HistoryCapacity, logger),
		detections: monitor.NewDetectionLog(),
		bundles:    monitor.NewBundleRing(cfg.BundleCapacity),
		dispatcher: o.dispatcher,
		metrics:    o.metrics,
		jobs:       make(chan *pending, cfg.QueueSize),
		order:      make(chan *pending, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i + 1)
	}
	e.wg.Add(1)
	go e.sequencer()

	logger.Info("Engine started",
		zap.Int("workers", cfg.Workers),
		zap.Int("history_capacity", cfg.HistoryCapacity),
		zap.Duration("sandwich_window", cfg.SandwichWindow))

	return e, nil
}

// pending is a queued event whose fetch may still be running. ready is
// closed once raw and skip are set.
type pending struct {
	ev    stream.RawTransactionEvent
	raw   *types.RawTransaction
	skip  bool
	ready chan struct{}
}

func newPending(ev stream.RawTransactionEvent) *pending {
	return &pending{ev: ev, ready: make(chan struct{})}
}

func (p *pending) drop() {
	p.skip = true
	close(p.ready)
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-e.done:
			logger.Debug("Worker stopped")
			return
		case p := <-e.jobs:
			p.raw, p.skip = e.load(e.ctx, p.ev)
			close(p.ready)
		}
	}
}

// sequencer applies fetched events in the order HandleMessage queued them,
// waiting for a slow fetch rather than letting later events overtake it.
func (e *Engine) sequencer() {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return
		case p := <-e.order:
			select {
			case <-p.ready:
			case <-e.done:
				return
			}
			if !p.skip {
				e.apply(e.ctx, p.ev, p.raw)
			}
		}
	}
}

// Run registers the engine on every source and runs them together with the
// stats reporter until ctx is done. Sources are closed when Run returns.
func (e *Engine) Run(ctx context.Context, sources ...stream.Stream) error {
	if e.closed.Load() {
		return types.ErrClosed
	}
	if len(sources) == 0 {
		return errors.New("engine requires at least one stream source")
	}

	g, gCtx := errgroup.WithContext(ctx)

	for _, src := range sources {
		src := src
		e.addSource(src)
		src.OnMessage(func(msg stream.Message) {
			if err := e.HandleMessage(gCtx, msg); err != nil && !errors.Is(err, types.ErrClosed) &&
				!errors.Is(err, context.Canceled) {
				e.logger.Warn("Message dropped",
					zap.String("feed", string(msg.Kind)),
					zap.Error(err))
			}
		})
		g.Go(func() error {
			defer src.Close()
			return src.Run(gCtx)
		})
	}

	g.Go(func() error {
		e.reportStats(gCtx)
		return nil
	})

	// stop the sources as soon as the engine is closed
	g.Go(func() error {
		select {
		case <-gCtx.Done():
		case <-e.done:
			for _, src := range sources {
				_ = src.Close()
			}
		}
		return nil
	})

	return g.Wait()
}

func (e *Engine) addSource(src stream.Stream) {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	e.sources = append(e.sources, src)
}

// HandleMessage records the bundle a message carries and queues its
// transactions for fetching. Transactions are fetched concurrently but
// analyzed in the order they were queued. It blocks while the queue is full.
func (e *Engine) HandleMessage(ctx context.Context, msg stream.Message) error {
	if e.closed.Load() {
		return types.ErrClosed
	}

	if msg.Bundle != nil {
		e.recordBundle(ctx, *msg.Bundle)
	}

	for _, ev := range msg.Events {
		p := newPending(ev)
		select {
		case e.order <- p:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return types.ErrClosed
		}

		// p already holds its place in order, so it must be released even
		// when it never reaches a worker
		select {
		case e.jobs <- p:
		case <-ctx.Done():
			p.drop()
			return ctx.Err()
		case <-e.done:
			p.drop()
			return types.ErrClosed
		}
	}
	return nil
}

func (e *Engine) recordBundle(ctx context.Context, b types.Bundle) {
	if !e.bundles.Add(b) {
		return
	}
	e.metrics.RecordBundle(b)
	e.logger.Debug("Bundle received",
		zap.String("bundle_id", b.BundleID),
		zap.Int("transactions", len(b.Transactions)),
		zap.Bool("landed", b.Landed))
	e.publish(ctx, events.NewBundleEvent(b))
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	err := e.dispatcher.Publish(ctx, event)
	if err == nil {
		return
	}
	n := 1
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n = len(joined.Unwrap())
	}
	e.metrics.RecordSubscriberFailures(n)
}

// ObserveState is a stream state hook that keeps metrics and subscribers
// informed about feed connectivity.
func (e *Engine) ObserveState(feed types.FeedKind, state stream.State) {
	e.metrics.SetStreamConnected(feed, state == stream.StateConnected)
	if state == stream.StateBackoff {
		e.metrics.RecordReconnect(feed)
	}
	e.publish(e.ctx, events.NewStreamStateEvent(feed, state.String(), e.clock.Now()))
}

// OnDetection registers fn for every new detection.
func (e *Engine) OnDetection(name string, fn func(types.Detection) error) events.Subscription {
	return e.dispatcher.OnDetection(name, fn)
}

// OnBundle registers fn for every new bundle.
func (e *Engine) OnBundle(name string, fn func(types.Bundle) error) events.Subscription {
	return e.dispatcher.OnBundle(name, fn)
}

// Dispatcher returns the event dispatcher detections are published on.
func (e *Engine) Dispatcher() *events.Dispatcher {
	return e.dispatcher
}

// Stats returns a consistent snapshot of the engine counters.
func (e *Engine) Stats() types.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sandwiches, arbitrages := e.detections.Counts()
	return types.Stats{
		SandwichAttacks: sandwiches,
		ArbitrageOps:    arbitrages,
		TotalAnalyzed:   e.history.Len(),
		BundlesSeen:     e.bundles.Seen(),
	}
}

// RecentSandwiches returns up to n of the latest sandwiches, oldest first.
func (e *Engine) RecentSandwiches(n int) []types.SandwichAttack {
	return e.detections.RecentSandwiches(n)
}

// RecentArbitrages returns up to n of the latest arbitrages, oldest first.
func (e *Engine) RecentArbitrages(n int) []types.ArbitrageOpportunity {
	return e.detections.RecentArbitrages(n)
}

// RecentBundles returns up to n of the latest bundles, oldest first.
func (e *Engine) RecentBundles(n int) []types.Bundle {
	return e.bundles.Recent(monitor.ClampRecent(n))
}

// RecentTransactions returns up to n of the latest analyses, oldest first.
func (e *Engine) RecentTransactions(n int) []types.TransactionAnalysis {
	return e.history.Recent(monitor.ClampRecent(n))
}

// IsConnected reports whether any source is connected.
func (e *Engine) IsConnected() bool {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	for _, src := range e.sources {
		if src.IsConnected() {
			return true
		}
	}
	return false
}

// Close stops the workers, the sequencer and every source passed to Run.
// In-flight fetches are cancelled and their results dropped. Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.done)
	e.cancel()

	e.srcMu.Lock()
	sources := append([]stream.Stream(nil), e.sources...)
	e.srcMu.Unlock()

	var errs []error
	for _, src := range sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	e.wg.Wait()
	e.logger.Info("Engine closed", zap.Any("stats", e.Stats()))
	return errors.Join(errs...)
}
