// internal/sink/clickhouse.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/config"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// batchConn is the part of driver.Conn the sink uses.
type batchConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

const (
	tableSandwiches = "sandwiches"
	tableArbitrages = "arbitrages"
	tableBundles    = "bundles"
)

// ClickHouse buffers detections and bundles and inserts them in batches.
// A table is flushed when its buffer reaches BatchSize and on every
// FlushInterval tick.
type ClickHouse struct {
	conn      batchConn
	database  string
	batchSize int
	interval  time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string][][]any
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClickHouse opens a connection, creates the schema and starts the flush loop.
func NewClickHouse(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:  5 * time.Second,
		Compression:  &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		MaxOpenConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to clickhouse at %s: %w", cfg.Addr, err)
	}

	ch := newClickHouse(conn, cfg, clock.New(), logger)
	if err := ch.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	ch.start()

	logger.Info("Connected to clickhouse",
		zap.String("addr", cfg.Addr),
		zap.String("database", cfg.Database))
	return ch, nil
}

func newClickHouse(conn batchConn, cfg config.ClickHouseConfig, clk clock.Clock, logger *zap.Logger) *ClickHouse {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultClickHouseBatchSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = config.DefaultClickHouseFlushInterval
	}
	return &ClickHouse{
		conn:      conn,
		database:  cfg.Database,
		batchSize: batchSize,
		interval:  interval,
		clock:     clk,
		logger:    logger.Named("clickhouse"),
		pending:   make(map[string][][]any),
		done:      make(chan struct{}),
	}
}

func (c *ClickHouse) Name() string { return "clickhouse" }

func (c *ClickHouse) table(name string) string {
	if c.database == "" {
		return name
	}
	return c.database + "." + name
}

// EnsureSchema creates the database and tables when they do not exist.
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	var queries []string
	if c.database != "" {
		queries = append(queries, "CREATE DATABASE IF NOT EXISTS "+c.database)
	}
	queries = append(queries,
		`CREATE TABLE IF NOT EXISTS `+c.table(tableSandwiches)+`
		(
			victimTx String,
			frontrunTx String,
			backrunTx String,
			token String,
			profit Decimal(38, 9),
			attacker String,
			attackerProfit Decimal(38, 9),
			dex LowCardinality(String),
			slot UInt64,
			timestamp DateTime64(3)
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (slot, victimTx)`,

		`CREATE TABLE IF NOT EXISTS `+c.table(tableArbitrages)+`
		(
			signature String,
			signer String,
			buyDex LowCardinality(String),
			sellDex LowCardinality(String),
			tokenIn String,
			tokenOut String,
			profitPercent Decimal(38, 9),
			hops UInt16,
			slot UInt64,
			timestamp DateTime64(3)
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (slot, signature)`,

		`CREATE TABLE IF NOT EXISTS `+c.table(tableBundles)+`
		(
			bundleId String,
			slot UInt64,
			landed Bool,
			transactions Array(String),
			timestamp DateTime64(3)
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (slot, bundleId)`,
	)

	for _, q := range queries {
		if err := c.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to ensure clickhouse schema: %w", err)
		}
	}
	c.logger.Debug("Schema ensured", zap.String("database", c.database))
	return nil
}

// WriteDetection buffers d, flushing its table when the batch is full.
func (c *ClickHouse) WriteDetection(ctx context.Context, d types.Detection) error {
	switch {
	case d.Sandwich != nil:
		s := d.Sandwich
		return c.add(ctx, tableSandwiches, []any{
			s.VictimTx, s.FrontrunTx, s.BackrunTx, s.TokenAddress, s.Profit,
			s.Attacker, s.AttackerProfit, string(s.Dex), s.Slot, s.Timestamp,
		})
	case d.Arbitrage != nil:
		a := d.Arbitrage
		return c.add(ctx, tableArbitrages, []any{
			a.Signature, a.Signer, string(a.BuyDex), string(a.SellDex), a.TokenIn, a.TokenOut,
			a.ProfitPercent, uint16(a.Hops), a.Slot, a.Timestamp,
		})
	}
	return fmt.Errorf("detection %q carries no payload", d.Kind)
}

// WriteBundle buffers b.
func (c *ClickHouse) WriteBundle(ctx context.Context, b types.Bundle) error {
	txs := append([]string(nil), b.Transactions...)
	return c.add(ctx, tableBundles, []any{b.BundleID, b.Slot, b.Landed, txs, b.Timestamp})
}

func (c *ClickHouse) add(ctx context.Context, table string, row []any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrClosed
	}
	c.pending[table] = append(c.pending[table], row)
	var rows [][]any
	if len(c.pending[table]) >= c.batchSize {
		rows = c.pending[table]
		delete(c.pending, table)
	}
	c.mu.Unlock()

	if rows == nil {
		return nil
	}
	return c.send(ctx, table, rows)
}

// Flush inserts everything buffered so far.
func (c *ClickHouse) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string][][]any)
	c.mu.Unlock()

	var errs []error
	for _, table := range []string{tableSandwiches, tableArbitrages, tableBundles} {
		if rows := pending[table]; len(rows) > 0 {
			if err := c.send(ctx, table, rows); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *ClickHouse) send(ctx context.Context, table string, rows [][]any) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+c.table(table))
	if err != nil {
		return fmt.Errorf("prepare batch for %s: %w", table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to %s: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch to %s: %w", table, err)
	}

	c.logger.Debug("Batch inserted",
		zap.String("table", table),
		zap.Int("rows", len(rows)))
	return nil
}

func (c *ClickHouse) start() {
	c.wg.Add(1)
	go c.flushLoop()
}

func (c *ClickHouse) flushLoop() {
	defer c.wg.Done()

	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
			if err := c.Flush(ctx); err != nil {
				c.logger.Error("Periodic flush failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops the flush loop, inserts what is left and closes the connection.
func (c *ClickHouse) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	defer cancel()

	flushErr := c.Flush(ctx)
	if flushErr != nil {
		c.logger.Error("Final flush failed", zap.Error(flushErr))
	}
	return errors.Join(flushErr, c.conn.Close())
}
