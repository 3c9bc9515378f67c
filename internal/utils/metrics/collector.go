// internal/utils/metrics/collector.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricType names a metric held by the collector.
type MetricType string

const (
	DetectionCounterType   MetricType = "detection_counter"
	AnalyzedCounterType    MetricType = "analyzed_counter"
	BundleCounterType      MetricType = "bundle_counter"
	FetchDurationType      MetricType = "fetch_duration"
	StreamConnectedType    MetricType = "stream_connected"
	StreamReconnectType    MetricType = "stream_reconnects"
	HistorySizeType        MetricType = "history_size"
	SubscriberFailuresType MetricType = "subscriber_failures"
)

const namespace = "mev_detector"

// Collector owns the engine metrics. Every Collector registers its own
// metric instances, so tests can use a fresh registry each.
type Collector struct {
	metrics sync.Map

	detections         *prometheus.CounterVec
	analyzed           *prometheus.CounterVec
	bundles            *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec
	streamConnected    *prometheus.GaugeVec
	streamReconnects   *prometheus.CounterVec
	historySize        prometheus.Gauge
	subscriberFailures prometheus.Counter
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// uses the default prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := newMetrics()
	c.initializeMetrics(reg)
	return c
}

func newMetrics() *Collector {
	return &Collector{
		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detections_total",
				Help:      "MEV detections by kind and DEX",
			},
			[]string{"kind", "dex"},
		),
		analyzed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_analyzed_total",
				Help:      "Transactions parsed and inserted into history",
			},
			[]string{"source"},
		),
		bundles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundles_total",
				Help:      "Bundles received from the bundle feed",
			},
			[]string{"landed"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Transaction fetch latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"status"},
		),
		streamConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connected",
				Help:      "1 when the feed is connected, 0 otherwise",
			},
			[]string{"feed"},
		),
		streamReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_reconnects_total",
				Help:      "Times a feed entered backoff",
			},
			[]string{"feed"},
		),
		historySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_size",
				Help:      "Transactions currently held in history",
			},
		),
		subscriberFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscriber_failures_total",
				Help:      "Subscriber deliveries that returned an error or panicked",
			},
		),
	}
}

func (c *Collector) initializeMetrics(reg prometheus.Registerer) {
	metricsMap := map[MetricType]prometheus.Collector{
		DetectionCounterType:   c.detections,
		AnalyzedCounterType:    c.analyzed,
		BundleCounterType:      c.bundles,
		FetchDurationType:      c.fetchDuration,
		StreamConnectedType:    c.streamConnected,
		StreamReconnectType:    c.streamReconnects,
		HistorySizeType:        c.historySize,
		SubscriberFailuresType: c.subscriberFailures,
	}

	for metricType, metric := range metricsMap {
		c.metrics.Store(metricType, metric)
		reg.MustRegister(metric)
	}
}

// Reset clears every labelled metric.
func (c *Collector) Reset() {
	c.metrics.Range(func(_, value interface{}) bool {
		switch m := value.(type) {
		case *prometheus.CounterVec:
			m.Reset()
		case *prometheus.GaugeVec:
			m.Reset()
		case *prometheus.HistogramVec:
			m.Reset()
		}
		return true
	})
}
