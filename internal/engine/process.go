// internal/engine/process.go
package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/detector"
	"github.com/rovshanmuradov/mev-detector/internal/events"
	"github.com/rovshanmuradov/mev-detector/internal/parser"
	"github.com/rovshanmuradov/mev-detector/internal/stream"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Process fetches, parses and analyzes one stream event synchronously.
// Failed transactions and signatures already in history are skipped.
func (e *Engine) Process(ctx context.Context, ev stream.RawTransactionEvent) error {
	if e.closed.Load() {
		return types.ErrClosed
	}
	raw, skip := e.load(ctx, ev)
	if e.closed.Load() {
		return types.ErrClosed
	}
	if !skip {
		e.apply(ctx, ev, raw)
	}
	return nil
}

// load fetches the transaction behind ev. It reports skip for failed
// transactions, known signatures and fetches cut short by Close. A failed
// fetch is not skipped: the event is analyzed without transaction data.
func (e *Engine) load(ctx context.Context, ev stream.RawTransactionEvent) (*types.RawTransaction, bool) {
	if ev.Failed {
		e.logger.Debug("Skipping failed transaction", zap.String("signature", ev.Signature))
		return nil, true
	}
	if e.history.Contains(ev.Signature) {
		return nil, true
	}

	raw, err := e.fetch(ctx, ev.Signature)
	if e.closed.Load() {
		return nil, true
	}
	if err != nil {
		e.logger.Warn("Transaction fetch failed", zap.Error(err))
		return nil, false
	}
	if raw != nil && raw.Failed {
		e.logger.Debug("Skipping failed transaction", zap.String("signature", ev.Signature))
		return nil, true
	}
	return raw, false
}

// apply parses a loaded event, adds it to history and publishes whatever it
// completes.
func (e *Engine) apply(ctx context.Context, ev stream.RawTransactionEvent, raw *types.RawTransaction) {
	analysis := e.parser.ParseWith(parser.Meta{
		Signature: ev.Signature,
		Timestamp: ev.Timestamp,
		Seq:       ev.Seq,
		BundleID:  ev.BundleID,
		Source:    ev.Kind,
	}, raw)

	found, ok := e.analyze(analysis)
	if !ok {
		return
	}

	for _, d := range found {
		e.metrics.RecordDetection(d)
		e.logDetection(d)
		e.publish(ctx, events.NewDetectionEvent(d))
	}
}

func (e *Engine) fetch(ctx context.Context, signature string) (*types.RawTransaction, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	start := e.clock.Now()
	raw, err := e.fetcher.FetchTransaction(fetchCtx, signature)
	e.metrics.RecordFetch(e.clock.Now().Sub(start), raw != nil, err)
	if err != nil {
		return nil, &types.FetchError{Signature: signature, Err: err}
	}
	if raw == nil {
		e.logger.Debug("Transaction not found", zap.String("signature", signature))
	}
	return raw, nil
}

// analyze inserts a into history and runs the detectors. It reports false
// when a was a duplicate or the engine closed meanwhile.
func (e *Engine) analyze(a types.TransactionAnalysis) ([]types.Detection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, false
	}

	evicted, inserted := e.history.Insert(a)
	if !inserted {
		return nil, false
	}
	if evicted != nil {
		e.detections.Forget(evicted.Signature)
	}
	e.metrics.RecordAnalyzed(a.Source)
	e.metrics.SetHistorySize(e.history.Len())

	var found []types.Detection
	for _, d := range e.detect(a) {
		if e.detections.Add(d) {
			found = append(found, d)
		}
	}
	return found, true
}

// detect evaluates current as a sandwich victim, then re-evaluates its slot
// neighbours as victims, since the last leg of a sandwich may arrive after
// the victim. Arbitrage is checked only when current is not itself a victim.
func (e *Engine) detect(current types.TransactionAnalysis) []types.Detection {
	view := e.history.ReadOnly()
	var out []types.Detection
	claimed := make(map[string]struct{})

	if attack := e.sandwich.Detect(current, view); attack != nil && !e.detections.Has(attack.VictimTx) {
		out = append(out, types.Detection{Kind: types.DetectionSandwich, Sandwich: attack})
		claimed[attack.VictimTx] = struct{}{}
	}

	if len(current.SwapEvents) > 0 {
		neighbours := view.InSlotWindow(current.Slot, current.Timestamp, e.cfg.SandwichWindow)
		sort.Slice(neighbours, func(i, j int) bool { return neighbours[i].Before(neighbours[j]) })

		for _, victim := range neighbours {
			if victim.Signature == current.Signature || e.detections.Has(victim.Signature) {
				continue
			}
			if _, ok := claimed[victim.Signature]; ok {
				continue
			}
			if attack := e.sandwich.Detect(victim, view); attack != nil {
				out = append(out, types.Detection{Kind: types.DetectionSandwich, Sandwich: attack})
				claimed[attack.VictimTx] = struct{}{}
			}
		}
	}

	if _, victim := claimed[current.Signature]; !victim {
		if arb := detector.DetectArbitrage(current); arb != nil {
			out = append(out, types.Detection{Kind: types.DetectionArbitrage, Arbitrage: arb})
		}
	}
	return out
}

func (e *Engine) logDetection(d types.Detection) {
	switch {
	case d.Sandwich != nil:
		s := d.Sandwich
		e.logger.Info("Sandwich attack detected",
			zap.String("victim", s.VictimTx),
			zap.String("frontrun", s.FrontrunTx),
			zap.String("backrun", s.BackrunTx),
			zap.String("token", s.TokenAddress),
			zap.String("profit", s.Profit.String()),
			zap.String("dex", string(s.Dex)),
			zap.Uint64("slot", s.Slot))
	case d.Arbitrage != nil:
		a := d.Arbitrage
		e.logger.Info("Arbitrage detected",
			zap.String("signature", a.Signature),
			zap.String("buy_dex", string(a.BuyDex)),
			zap.String("sell_dex", string(a.SellDex)),
			zap.String("token", a.TokenIn),
			zap.String("profit_percent", a.ProfitPercent.StringFixed(4)),
			zap.Uint64("slot", a.Slot))
	}
}

// reportStats logs a stats snapshot every StatsInterval.
func (e *Engine) reportStats(ctx context.Context) {
	ticker := e.clock.Ticker(e.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			stats := e.Stats()
			e.metrics.SetHistorySize(stats.TotalAnalyzed)
			e.logger.Info("Engine stats",
				zap.Int("analyzed", stats.TotalAnalyzed),
				zap.Int("sandwiches", stats.SandwichAttacks),
				zap.Int("arbitrages", stats.ArbitrageOps),
				zap.Int("bundles", stats.BundlesSeen),
				zap.Bool("connected", e.IsConnected()))
		}
	}
}
