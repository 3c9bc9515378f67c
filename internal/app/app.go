// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/mev-detector/internal/blockchain/solbc"
	"github.com/rovshanmuradov/mev-detector/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/mev-detector/internal/config"
	"github.com/rovshanmuradov/mev-detector/internal/dex"
	"github.com/rovshanmuradov/mev-detector/internal/engine"
	"github.com/rovshanmuradov/mev-detector/internal/export"
	"github.com/rovshanmuradov/mev-detector/internal/monitor"
	"github.com/rovshanmuradov/mev-detector/internal/sink"
	"github.com/rovshanmuradov/mev-detector/internal/stream"
	"github.com/rovshanmuradov/mev-detector/internal/types"
	"github.com/rovshanmuradov/mev-detector/internal/utils/metrics"
)

// Client is the RPC surface the detector needs: transaction fetches for the
// engine and signature listings for the poller.
type Client interface {
	engine.Fetcher
	stream.SignatureLister
}

// Option customizes an App.
type Option func(*options)

type options struct {
	client       Client
	registry     *dex.Registry
	streamOpts   []stream.Option
	sinks        []sink.Sink
	shutdownWait time.Duration
}

// WithClient replaces the RPC client built from rpc_list.
func WithClient(c Client) Option {
	return func(o *options) { o.client = c }
}

// WithStreamOptions passes extra options to every stream source.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(o *options) { o.streamOpts = append(o.streamOpts, opts...) }
}

// WithSinks adds sinks on top of the configured ones.
func WithSinks(sinks ...sink.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithShutdownTimeout bounds Close.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownWait = d }
}

// App wires the feeds, the engine and the sinks of one detector process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	engine   *engine.Engine
	sources  []stream.Stream
	sinks    *sink.Set
	recorder *export.Recorder
	exporter *export.DetectionExporter
	alerts   *monitor.AlertManager

	registry *prometheus.Registry
	metrics  *metrics.Collector
	server   *metrics.Server

	shutdown *ShutdownHandler
}

// New builds every component described by cfg. Nothing connects until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = dex.DefaultRegistry()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		shutdown: NewShutdownHandler(logger, o.shutdownWait),
		exporter: export.NewDetectionExporter(logger),
		recorder: export.NewRecorder(cfg.HistoryCapacity),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewCollector(a.registry)

	client := o.client
	if client == nil {
		pool, err := rpc.NewPool(rpc.Config{
			URLs:    cfg.RPCList,
			APIKey:  cfg.APIKey,
			Timeout: cfg.FetchTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create rpc pool: %w", err)
		}
		client = solbc.NewClient(pool, logger)
	}

	eng, err := engine.New(engine.Config{
		FetchTimeout:    cfg.FetchTimeout,
		Workers:         cfg.FetchWorkers,
		HistoryCapacity: cfg.HistoryCapacity,
		BundleCapacity:  cfg.BundleCapacity,
		SandwichWindow:  cfg.SandwichWindow,
		StatsInterval:   cfg.StatsInterval,
	}, client, logger,
		engine.WithRegistry(o.registry),
		engine.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	a.engine = eng

	sinks, err := buildSinks(ctx, cfg.Sinks, logger)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	sinks = append(sinks, o.sinks...)
	a.sinks = sink.Attach(eng.Dispatcher(), logger, sinks...)
	eng.OnDetection("export.recorder", a.recorder.Add)
	if cfg.Alerts.Enabled {
		a.alerts = monitor.NewAlertManager(alertConfig(cfg.Alerts), logger)
		eng.OnDetection("monitor.alerts", a.alerts.HandleDetection)
	}

	streamOpts := append([]stream.Option{stream.WithStateHook(eng.ObserveState)}, o.streamOpts...)
	sources, err := buildSources(cfg, o.registry, client, logger, streamOpts...)
	if err != nil {
		_ = eng.Close()
		_ = a.sinks.Close()
		return nil, err
	}
	a.sources = sources

	if cfg.Metrics.Enabled {
		a.server = metrics.NewServer(cfg.Metrics.Addr, a.registry, logger)
	}

	// closed last to first: engine, export, sinks
	a.shutdown.Add("sinks", a.sinks)
	a.shutdown.AddFunc("export", a.exportDetections)
	a.shutdown.Add("engine", eng)

	logger.Info("Detector assembled",
		zap.Int("sources", len(sources)),
		zap.Int("sinks", a.sinks.Len()),
		zap.Bool("metrics", a.server != nil))

	return a, nil
}

// programsFor returns the configured programs, or every registered DEX.
func programsFor(cfg *config.Config, reg *dex.Registry) []string {
	if len(cfg.Programs) > 0 {
		return cfg.Programs
	}
	return reg.Addresses()
}

func alertConfig(cfg config.AlertsConfig) monitor.AlertConfig {
	return monitor.AlertConfig{
		VictimLoss:       decimal.NewFromFloat(cfg.VictimLoss),
		AttackerProfit:   decimal.NewFromFloat(cfg.AttackerProfit),
		ArbitragePercent: decimal.NewFromFloat(cfg.ArbitragePercent),
		RepeatAttacker:   cfg.RepeatAttacker,
		CooldownDuration: cfg.Cooldown,
	}
}

func streamConfig(cfg *config.Config, programs []string) stream.Config {
	sc := stream.DefaultConfig()
	sc.Programs = programs
	sc.ReconnectDelay = cfg.ReconnectDelay
	sc.MaxReconnectDelay = cfg.MaxReconnectDelay
	sc.Jitter = cfg.ReconnectJitter
	sc.PollInterval = cfg.PollInterval
	sc.PollLimit = cfg.PollLimit
	return sc
}

func buildSources(cfg *config.Config, reg *dex.Registry, lister stream.SignatureLister, logger *zap.Logger, opts ...stream.Option) ([]stream.Stream, error) {
	feeds, err := cfg.Feeds()
	if err != nil {
		return nil, err
	}
	programs := programsFor(cfg, reg)

	var sources []stream.Stream
	for _, feed := range feeds {
		sc := streamConfig(cfg, programs)

		var (
			src stream.Stream
			err error
		)
		switch feed {
		case types.FeedBundle:
			sc.Endpoint = cfg.BundleURL
			src, err = stream.NewSource(stream.NewBundleFeed(), sc, logger, opts...)
		case types.FeedLogs:
			sc.Endpoint = cfg.WebSocketURL
			src, err = stream.NewSource(stream.NewLogFeed(programs), sc, logger, opts...)
		case types.FeedPoll:
			src, err = stream.NewPoller(lister, sc, logger, opts...)
		default:
			err = fmt.Errorf("unsupported feed %q", feed)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s feed: %w", feed, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func buildSinks(ctx context.Context, cfg config.SinksConfig, logger *zap.Logger) ([]sink.Sink, error) {
	var sinks []sink.Sink
	fail := func(err error) ([]sink.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if cfg.Journal.Enabled {
		j, err := sink.NewJournal(cfg.Journal.Path, sink.DefaultJournalFlushInterval, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, j)
	}
	if cfg.Redis.Enabled {
		r, err := sink.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, r)
	}
	if cfg.NATS.Enabled {
		n, err := sink.NewNATS(cfg.NATS, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, n)
	}
	if cfg.ClickHouse.Enabled {
		ch, err := sink.NewClickHouse(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, ch)
	}
	return sinks, nil
}

// Run drives the sources and the metrics server until ctx is done or a
// source fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Run(gCtx, a.sources...)
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gCtx)
		})
	}

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, a.Close())
}

// Close shuts the app down. It is idempotent.
func (a *App) Close() error {
	return a.shutdown.Shutdown(context.Background())
}

// Engine returns the detection engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Sources returns the configured stream sources.
func (a *App) Sources() []stream.Stream {
	return a.sources
}

// Alerts returns the alert manager, or nil when alerts are disabled.
func (a *App) Alerts() *monitor.AlertManager {
	return a.alerts
}

// Gatherer returns the registry the app's metrics are registered on.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

func (a *App) exportDetections() error {
	if a.cfg.ExportDir == "" {
		return nil
	}
	detections := a.recorder.Detections()
	if len(detections) == 0 {
		a.logger.Info("No detections to export")
		return nil
	}

	if _, err := a.exporter.ExportDetections(detections, export.ExportOptions{
		Format:    export.FormatJSON,
		OutputDir: a.cfg.ExportDir,
	}); err != nil {
		return err
	}
	if _, err := a.exporter.ExportDetections(detections, export.ExportOptions{
		Format:    export.FormatCSV,
		OutputDir: a.cfg.ExportDir,
	}); err != nil {
		return err
	}

	// daily report for the day of the latest detection
	latest := detections[0].Time()
	for _, d := range detections[1:] {
		if d.Time().After(latest) {
			latest = d.Time()
		}
	}
	_, err := a.exporter.ExportDailyReport(detections, latest, a.cfg.ExportDir)
	return err
}
