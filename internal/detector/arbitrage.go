// internal/detector/arbitrage.go
package detector

import (
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

var hundred = decimal.NewFromInt(100)

// DetectArbitrage reports current when its swaps return the starting token
// across at least two DEX interactions.
func DetectArbitrage(current types.TransactionAnalysis) *types.ArbitrageOpportunity {
	if len(current.DexInteractions) < 2 || len(current.SwapEvents) == 0 {
		return nil
	}

	path := TokenPath(current.SwapEvents)
	if len(path) <= 2 || path[0] != path[len(path)-1] {
		return nil
	}

	first := current.SwapEvents[0]
	last := current.SwapEvents[len(current.SwapEvents)-1]

	buyDex, sellDex := first.Dex, last.Dex
	if buyDex == "" || sellDex == "" {
		fallbackBuy, fallbackSell := distinctPair(current.DexInteractions)
		if buyDex == "" {
			buyDex = fallbackBuy
		}
		if sellDex == "" {
			sellDex = fallbackSell
		}
	}

	return &types.ArbitrageOpportunity{
		Signature:     current.Signature,
		BuyDex:        buyDex,
		SellDex:       sellDex,
		TokenIn:       path[0],
		TokenOut:      first.TokenOut,
		ProfitPercent: ProfitPercent(first.AmountIn, last.AmountOut),
		Timestamp:     current.Timestamp,
		Slot:          current.Slot,
		Signer:        current.Signer,
		Hops:          len(current.SwapEvents),
	}
}

// TokenPath flattens swaps into [in0, out0, in1, out1, ...].
func TokenPath(swaps []types.SwapEvent) []string {
	path := make([]string, 0, len(swaps)*2)
	for _, s := range swaps {
		path = append(path, s.TokenIn, s.TokenOut)
	}
	return path
}

// ProfitPercent is (out/in - 1) * 100, zero when in is zero.
func ProfitPercent(in, out decimal.Decimal) decimal.Decimal {
	if in.IsZero() {
		return decimal.Zero
	}
	return out.Div(in).Sub(decimal.NewFromInt(1)).Mul(hundred)
}

// distinctPair returns the first two distinct DEX ids, repeating the first when
// only one is present.
func distinctPair(ids []types.DexID) (types.DexID, types.DexID) {
	if len(ids) == 0 {
		return "", ""
	}
	first := ids[0]
	for _, id := range ids[1:] {
		if id != first {
			return first, id
		}
	}
	return first, first
}
