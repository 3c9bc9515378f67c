package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

func TestCollector_RecordDetection(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordDetection(types.Detection{
		Kind:     types.DetectionSandwich,
		Sandwich: &types.SandwichAttack{VictimTx: "v", Dex: types.DexRaydium, Profit: decimal.NewFromInt(-1)},
	})
	c.RecordDetection(types.Detection{
		Kind:      types.DetectionArbitrage,
		Arbitrage: &types.ArbitrageOpportunity{Signature: "a", BuyDex: types.DexOrca},
	})
	c.RecordDetection(types.Detection{
		Kind:      types.DetectionArbitrage,
		Arbitrage: &types.ArbitrageOpportunity{Signature: "b"},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.detections.WithLabelValues("sandwich", "raydium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.detections.WithLabelValues("arbitrage", "orca")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.detections.WithLabelValues("arbitrage", "unknown")))
}

func TestCollector_RecordFetch(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordFetch(10*time.Millisecond, true, nil)
	c.RecordFetch(10*time.Millisecond, false, nil)
	c.RecordFetch(10*time.Millisecond, false, errors.New("boom"))
	c.RecordFetch(10*time.Millisecond, false, context.DeadlineExceeded)

	assert.Equal(t, 4, testutil.CollectAndCount(c.fetchDuration))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SetStreamConnected(types.FeedBundle, true)
	c.SetStreamConnected(types.FeedLogs, false)
	c.RecordReconnect(types.FeedLogs)
	c.RecordReconnect(types.FeedLogs)
	c.SetHistorySize(42)
	c.RecordSubscriberFailures(3)
	c.RecordSubscriberFailures(0)
	c.RecordAnalyzed(types.FeedBundle)
	c.RecordBundle(types.Bundle{Landed: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamConnected.WithLabelValues("bundle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.streamConnected.WithLabelValues("logs")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.streamReconnects.WithLabelValues("logs")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.historySize))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.subscriberFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.analyzed.WithLabelValues("bundle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bundles.WithLabelValues("true")))

	c.Reset()
	assert.Equal(t, 0, testutil.CollectAndCount(c.streamReconnects))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordDetection(types.Detection{Kind: types.DetectionSandwich})
		c.RecordAnalyzed(types.FeedPoll)
		c.RecordFetch(time.Second, true, nil)
		c.SetStreamConnected(types.FeedLogs, true)
		c.SetHistorySize(1)
	})
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.SetHistorySize(7)

	srv := httptest.NewServer(NewServer(":0", reg, zap.NewNop()).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "mev_detector_history_size 7"))
}
