// internal/parser/parser.go
package parser

import (
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/dex"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Meta carries what the stream knows about a transaction before it is fetched.
type Meta struct {
	Signature string
	Timestamp time.Time
	Seq       uint64
	BundleID  string
	Source    types.FeedKind
}

// Parser turns fetched transactions into TransactionAnalysis values.
type Parser struct {
	registry *dex.Registry
	logger   *zap.Logger
}

// New creates a parser backed by the given DEX program table.
func New(registry *dex.Registry, logger *zap.Logger) *Parser {
	if registry == nil {
		registry = dex.DefaultRegistry()
	}
	return &Parser{
		registry: registry,
		logger:   logger.Named("parser"),
	}
}

// Parse analyzes raw for signature. A nil raw yields a minimal analysis with
// empty sequences and slot 0.
func (p *Parser) Parse(signature string, raw *types.RawTransaction) types.TransactionAnalysis {
	return p.ParseWith(Meta{Signature: signature}, raw)
}

// ParseWith is Parse with stream metadata (arrival time, sequence, bundle) attached.
func (p *Parser) ParseWith(meta Meta, raw *types.RawTransaction) types.TransactionAnalysis {
	analysis := types.TransactionAnalysis{
		Signature:       meta.Signature,
		Timestamp:       meta.Timestamp,
		Seq:             meta.Seq,
		BundleID:        meta.BundleID,
		Source:          meta.Source,
		DexInteractions: []types.DexID{},
		TokenTransfers:  []types.TokenTransfer{},
		SwapEvents:      []types.SwapEvent{},
	}
	if raw == nil {
		return analysis
	}

	analysis.Slot = raw.Slot
	if analysis.Timestamp.IsZero() {
		analysis.Timestamp = raw.BlockTime
	}
	analysis.Signer = raw.FeePayer()
	analysis.DexInteractions = p.dexInteractions(raw.AccountKeys)

	deltas := diffTokenBalances(raw.PreTokenBalances, raw.PostTokenBalances)
	analysis.BalanceDeltas = ownerDeltas(deltas)
	analysis.TokenTransfers = pairTransfers(deltas)
	analysis.SwapEvents = p.extractSwaps(raw, deltas, analysis.Signer, analysis.DexInteractions)

	p.logger.Debug("Transaction parsed",
		zap.String("signature", meta.Signature),
		zap.Uint64("slot", raw.Slot),
		zap.Int("dex_interactions", len(analysis.DexInteractions)),
		zap.Int("transfers", len(analysis.TokenTransfers)),
		zap.Int("swaps", len(analysis.SwapEvents)))

	return analysis
}

// dexInteractions matches account keys against the program table in account order.
func (p *Parser) dexInteractions(keys []string) []types.DexID {
	out := []types.DexID{}
	for _, key := range keys {
		if prog, ok := p.registry.Lookup(key); ok {
			out = append(out, prog.ID)
		}
	}
	return out
}
