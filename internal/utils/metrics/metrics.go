// internal/utils/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Fetch outcome labels.
const (
	FetchSuccess  = "success"
	FetchNotFound = "not_found"
	FetchFailed   = "failed"
	FetchTimeout  = "timeout"
)

// All methods are no-ops on a nil *Collector.

// RecordDetection counts a sandwich or arbitrage.
func (c *Collector) RecordDetection(d types.Detection) {
	if c == nil {
		return
	}
	var dex types.DexID
	switch {
	case d.Sandwich != nil:
		dex = d.Sandwich.Dex
	case d.Arbitrage != nil:
		dex = d.Arbitrage.BuyDex
	}
	if dex == "" {
		dex = "unknown"
	}
	c.detections.WithLabelValues(string(d.Kind), string(dex)).Inc()
}

// RecordAnalyzed counts a transaction inserted into history.
func (c *Collector) RecordAnalyzed(source types.FeedKind) {
	if c == nil {
		return
	}
	c.analyzed.WithLabelValues(string(source)).Inc()
}

// RecordBundle counts a received bundle.
func (c *Collector) RecordBundle(b types.Bundle) {
	if c == nil {
		return
	}
	c.bundles.WithLabelValues(strconv.FormatBool(b.Landed)).Inc()
}

// RecordFetch observes one transaction fetch. A nil result without error
// is a transaction the node does not know yet.
func (c *Collector) RecordFetch(duration time.Duration, found bool, err error) {
	if c == nil {
		return
	}
	status := FetchSuccess
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = FetchTimeout
	case err != nil:
		status = FetchFailed
	case !found:
		status = FetchNotFound
	}
	c.fetchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetStreamConnected updates the connection gauge of feed.
func (c *Collector) SetStreamConnected(feed types.FeedKind, connected bool) {
	if c == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	c.streamConnected.WithLabelValues(string(feed)).Set(v)
}

// RecordReconnect counts a feed entering backoff.
func (c *Collector) RecordReconnect(feed types.FeedKind) {
	if c == nil {
		return
	}
	c.streamReconnects.WithLabelValues(string(feed)).Inc()
}

// SetHistorySize updates the history gauge.
func (c *Collector) SetHistorySize(n int) {
	if c == nil {
		return
	}
	c.historySize.Set(float64(n))
}

// RecordSubscriberFailures adds n failed subscriber deliveries.
func (c *Collector) RecordSubscriberFailures(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.subscriberFailures.Add(float64(n))
}
