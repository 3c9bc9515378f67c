package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/config"
	"github.com/rovshanmuradov/mev-detector/internal/dex"
	"github.com/rovshanmuradov/mev-detector/internal/events"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// fakeClient lists a fixed set of signatures and knows no transactions.
type fakeClient struct {
	mu      sync.Mutex
	sigs    []types.SignatureInfo
	fetched []string
}

func (c *fakeClient) FetchTransaction(_ context.Context, signature string) (*types.RawTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, signature)
	return nil, nil
}

func (c *fakeClient) GetSignatures(_ context.Context, _ string, limit int) ([]types.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sigs) > limit {
		return c.sigs[:limit], nil
	}
	return c.sigs, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Feed = string(types.FeedPoll)
	cfg.Programs = []string{dex.RaydiumProgramID}
	cfg.PollInterval = 50 * time.Millisecond
	cfg.StatsInterval = time.Hour
	cfg.ExportDir = filepath.Join(dir, "exports")
	cfg.Sinks.Journal.Enabled = true
	cfg.Sinks.Journal.Path = filepath.Join(dir, "detections.csv")
	return cfg
}

func TestApp_PollFeedEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alerts.Enabled = true
	client := &fakeClient{sigs: []types.SignatureInfo{
		{Signature: "sig3", Slot: 12},
		{Signature: "sig2", Slot: 11},
		{Signature: "sig1", Slot: 10},
	}}

	a, err := New(context.Background(), cfg, zap.NewNop(), WithClient(client))
	require.NoError(t, err)
	require.Len(t, a.Sources(), 1)
	assert.Equal(t, types.FeedPoll, a.Sources()[0].Kind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.Engine().Stats().TotalAnalyzed == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.Engine().IsConnected())

	// a detection reaches the journal and the shutdown export
	d := types.Detection{
		Kind: types.DetectionArbitrage,
		Arbitrage: &types.ArbitrageOpportunity{
			Signature:     "sig2",
			BuyDex:        types.DexRaydium,
			SellDex:       types.DexOrca,
			TokenIn:       "mintA",
			TokenOut:      "mintB",
			ProfitPercent: decimal.NewFromInt(10),
			Timestamp:     time.Now(),
			Slot:          11,
			Hops:          2,
		},
	}
	require.NoError(t, a.Engine().Dispatcher().Publish(ctx, events.NewDetectionEvent(d)))

	require.NotNil(t, a.Alerts())
	alerts := a.Alerts().GetRecentAlerts(0)
	require.Len(t, alerts, 1)
	assert.Equal(t, "sig2", alerts[0].Signature)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	journal, err := os.ReadFile(cfg.Sinks.Journal.Path)
	require.NoError(t, err)
	assert.Contains(t, string(journal), "sig2")

	exports, err := os.ReadDir(cfg.ExportDir)
	require.NoError(t, err)
	require.Len(t, exports, 3, "json, csv and daily report")
	var reports []string
	for _, entry := range exports {
		if strings.HasPrefix(entry.Name(), "daily_report_") {
			reports = append(reports, entry.Name())
		}
	}
	assert.Equal(t, []string{"daily_report_" + d.Time().Format("20060102") + ".json"}, reports)

	families, err := a.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "mev_detector_transactions_analyzed_total")
	assert.Contains(t, names, "go_goroutines")

	assert.NoError(t, a.Close(), "Close is idempotent")
}

func TestBuildSources_FeedSelection(t *testing.T) {
	reg := dex.DefaultRegistry()
	client := &fakeClient{}

	tests := []struct {
		name  string
		setup func(*config.Config)
		kinds []types.FeedKind
	}{
		{"logs", func(c *config.Config) { c.Feed = "logs" }, []types.FeedKind{types.FeedLogs}},
		{"poll", func(c *config.Config) { c.Feed = "poll" }, []types.FeedKind{types.FeedPoll}},
		{"bundle", func(c *config.Config) {
			c.Feed = "bundle"
			c.BundleURL = "wss://bundles.example.com"
		}, []types.FeedKind{types.FeedBundle}},
		{"all without bundle url", func(c *config.Config) { c.Feed = "all" }, []types.FeedKind{types.FeedLogs}},
		{"all with bundle url", func(c *config.Config) {
			c.Feed = "all"
			c.BundleURL = "wss://bundles.example.com"
		}, []types.FeedKind{types.FeedLogs, types.FeedBundle}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.setup(cfg)

			sources, err := buildSources(cfg, reg, client, zap.NewNop())
			require.NoError(t, err)

			var kinds []types.FeedKind
			for _, s := range sources {
				kinds = append(kinds, s.Kind())
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestBuildSources_UnknownFeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed = "grpc"

	_, err := buildSources(cfg, dex.DefaultRegistry(), &fakeClient{}, zap.NewNop())
	assert.Error(t, err)
}

func TestProgramsFor(t *testing.T) {
	reg := dex.DefaultRegistry()
	cfg := testConfig(t)

	assert.Equal(t, []string{dex.RaydiumProgramID}, programsFor(cfg, reg))

	cfg.Programs = nil
	assert.ElementsMatch(t, reg.Addresses(), programsFor(cfg, reg))
}

func TestApp_NoDetectionsSkipsExport(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop(), WithClient(&fakeClient{}))
	require.NoError(t, err)
	assert.Nil(t, a.Alerts(), "alerts are off by default")

	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.ExportDir)
	assert.True(t, os.IsNotExist(err))
}
