package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/monitor"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

const (
	tokenA = "So11111111111111111111111111111111111111112"
	tokenT = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	tokenB = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func num(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func swap(dex types.DexID, in, out string, amountIn, amountOut int64) types.SwapEvent {
	return types.SwapEvent{Dex: dex, TokenIn: in, TokenOut: out, AmountIn: num(amountIn), AmountOut: num(amountOut)}
}

type txOpt func(*types.TransactionAnalysis)

func withSigner(s string) txOpt {
	return func(a *types.TransactionAnalysis) { a.Signer = s }
}

func withSwaps(swaps ...types.SwapEvent) txOpt {
	return func(a *types.TransactionAnalysis) {
		a.SwapEvents = swaps
		for _, s := range swaps {
			a.DexInteractions = append(a.DexInteractions, s.Dex)
		}
	}
}

func withDelta(owner, token string, delta int64) txOpt {
	return func(a *types.TransactionAnalysis) {
		a.BalanceDeltas = append(a.BalanceDeltas, types.BalanceDelta{Owner: owner, Token: token, Delta: num(delta)})
	}
}

func tx(sig string, slot uint64, offset time.Duration, seq uint64, opts ...txOpt) types.TransactionAnalysis {
	a := types.TransactionAnalysis{Signature: sig, Slot: slot, Timestamp: t0.Add(offset), Seq: seq}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func historyOf(txs ...types.TransactionAnalysis) monitor.View {
	h := monitor.NewHistory(100, zap.NewNop())
	for _, a := range txs {
		h.Insert(a)
	}
	return h.ReadOnly()
}

func classicSandwich(backOffset time.Duration) (front, victim, back types.TransactionAnalysis) {
	front = tx("front", 10, 0, 1, withSigner("bot"), withSwaps(swap(types.DexRaydium, tokenA, tokenT, 10, 100)))
	victim = tx("victim", 10, 100*time.Millisecond, 2, withSigner("user"),
		withSwaps(swap(types.DexRaydium, tokenA, tokenT, 5, 45)),
		withDelta("user", tokenA, -5), withDelta("user", tokenT, 45))
	back = tx("back", 10, backOffset, 3, withSigner("bot"), withSwaps(swap(types.DexRaydium, tokenT, tokenA, 100, 12)))
	return
}

func TestDetectSandwich_ThreeDistinctTransactions(t *testing.T) {
	front, victim, back := classicSandwich(200 * time.Millisecond)

	attack := DetectSandwich(victim, historyOf(front, victim, back))

	require.NotNil(t, attack)
	assert.Equal(t, "victim", attack.VictimTx)
	assert.Equal(t, "front", attack.FrontrunTx)
	assert.Equal(t, "back", attack.BackrunTx)
	assert.NotEqual(t, attack.FrontrunTx, attack.BackrunTx)
	assert.Equal(t, tokenT, attack.TokenAddress)
	// 5 A at the frontrun's 10 T per A would have bought 50 T
	assert.True(t, num(-5).Equal(attack.Profit), attack.Profit.String())
	assert.True(t, num(2).Equal(attack.AttackerProfit))
	assert.Equal(t, tokenA, attack.ProfitToken)
	assert.Equal(t, "bot", attack.Attacker)
	assert.Equal(t, types.DexRaydium, attack.Dex)
	assert.Equal(t, uint64(10), attack.Slot)
	assert.Equal(t, victim.Timestamp, attack.Timestamp)
}

func TestDetectSandwich_WindowBoundary(t *testing.T) {
	tests := []struct {
		name       string
		backOffset time.Duration
		detected   bool
	}{
		{"backrun well inside window", 300 * time.Millisecond, true},
		{"backrun just inside window", 599 * time.Millisecond, true},
		{"backrun exactly at window", 600 * time.Millisecond, false},
		{"backrun outside window", 900 * time.Millisecond, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			front, victim, back := classicSandwich(tc.backOffset)
			attack := DetectSandwich(victim, historyOf(front, victim, back))
			assert.Equal(t, tc.detected, attack != nil)
		})
	}
}

func TestDetectSandwich_RequiresBothSides(t *testing.T) {
	front, victim, back := classicSandwich(200 * time.Millisecond)

	assert.Nil(t, DetectSandwich(victim, historyOf(front, victim)), "no backrun")
	assert.Nil(t, DetectSandwich(victim, historyOf(victim, back)), "no frontrun")
	assert.Nil(t, DetectSandwich(front, historyOf(front, victim, back)), "front has nothing before it")
}

func TestDetectSandwich_RejectsMismatches(t *testing.T) {
	t.Run("different slot", func(t *testing.T) {
		front, victim, back := classicSandwich(200 * time.Millisecond)
		back.Slot = 11
		assert.Nil(t, DetectSandwich(victim, historyOf(front, victim, back)))
	})

	t.Run("no shared dex", func(t *testing.T) {
		front, victim, _ := classicSandwich(200 * time.Millisecond)
		back := tx("back", 10, 200*time.Millisecond, 3, withSigner("bot"), withSwaps(swap(types.DexOrca, tokenT, tokenA, 100, 12)))
		assert.Nil(t, DetectSandwich(victim, historyOf(front, victim, back)))
	})

	t.Run("shared dex without token overlap", func(t *testing.T) {
		front, victim, _ := classicSandwich(200 * time.Millisecond)
		back := tx("back", 10, 200*time.Millisecond, 3, withSigner("bot"), withSwaps(swap(types.DexRaydium, tokenB, tokenA, 100, 12)))
		assert.Nil(t, DetectSandwich(victim, historyOf(front, victim, back)))
	})

	t.Run("frontrun and backrun signed by different wallets", func(t *testing.T) {
		front, victim, back := classicSandwich(200 * time.Millisecond)
		back.Signer = "someone-else"
		assert.Nil(t, DetectSandwich(victim, historyOf(front, victim, back)))
	})

	t.Run("victim signed the frontrun", func(t *testing.T) {
		front, victim, back := classicSandwich(200 * time.Millisecond)
		front.Signer = "user"
		back.Signer = "user"
		assert.Nil(t, DetectSandwich(victim, historyOf(front, victim, back)))
	})
}

func TestDetectSandwich_SameTimestampOrderedBySequence(t *testing.T) {
	front, victim, back := classicSandwich(0)
	victim.Timestamp = front.Timestamp
	back.Timestamp = front.Timestamp

	attack := DetectSandwich(victim, historyOf(front, victim, back))

	require.NotNil(t, attack)
	assert.Equal(t, "front", attack.FrontrunTx)
	assert.Equal(t, "back", attack.BackrunTx)
}

func TestDetectSandwich_PicksNearestPair(t *testing.T) {
	front, victim, back := classicSandwich(200 * time.Millisecond)
	earlier := tx("earlier-front", 10, -200*time.Millisecond, 0, withSigner("bot"), withSwaps(swap(types.DexRaydium, tokenA, tokenT, 10, 100)))
	later := tx("later-back", 10, 400*time.Millisecond, 4, withSigner("bot"), withSwaps(swap(types.DexRaydium, tokenT, tokenA, 100, 12)))

	d := NewSandwichDetector(0, zap.NewNop())
	attack := d.Detect(victim, historyOf(earlier, front, victim, back, later))

	require.NotNil(t, attack)
	assert.Equal(t, "front", attack.FrontrunTx)
	assert.Equal(t, "back", attack.BackrunTx)
}

func TestDetectArbitrage_Cycle(t *testing.T) {
	current := tx("arb", 20, 0, 1, withSigner("bot"), withSwaps(
		swap(types.DexRaydium, tokenA, tokenB, 10, 20),
		swap(types.DexOrca, tokenB, tokenA, 20, 11),
	))

	opp := DetectArbitrage(current)

	require.NotNil(t, opp)
	assert.Equal(t, "arb", opp.Signature)
	assert.Equal(t, tokenA, opp.TokenIn)
	assert.Equal(t, tokenB, opp.TokenOut)
	assert.Equal(t, types.DexRaydium, opp.BuyDex)
	assert.Equal(t, types.DexOrca, opp.SellDex)
	assert.True(t, num(10).Equal(opp.ProfitPercent), "got %s", opp.ProfitPercent)
	assert.Equal(t, 2, opp.Hops)
	assert.Equal(t, uint64(20), opp.Slot)
}

func TestDetectArbitrage_NoCycle(t *testing.T) {
	current := tx("oneway", 20, 0, 1, withSwaps(swap(types.DexRaydium, tokenA, tokenB, 10, 20)))
	current.DexInteractions = []types.DexID{types.DexJupiter, types.DexRaydium}

	assert.Nil(t, DetectArbitrage(current))
}

func TestDetectArbitrage_NeedsTwoDexInteractions(t *testing.T) {
	current := tx("single-venue", 20, 0, 1)
	current.SwapEvents = []types.SwapEvent{
		swap(types.DexRaydium, tokenA, tokenB, 10, 20),
		swap(types.DexRaydium, tokenB, tokenA, 20, 11),
	}
	current.DexInteractions = []types.DexID{types.DexRaydium}

	assert.Nil(t, DetectArbitrage(current))
}

func TestDetectArbitrage_FallsBackToInteractionOrder(t *testing.T) {
	current := tx("arb", 20, 0, 1)
	current.SwapEvents = []types.SwapEvent{
		swap("", tokenA, tokenB, 0, 20),
		swap("", tokenB, tokenA, 20, 11),
	}
	current.DexInteractions = []types.DexID{types.DexJupiter, types.DexJupiter, types.DexMeteora}

	opp := DetectArbitrage(current)

	require.NotNil(t, opp)
	assert.Equal(t, types.DexJupiter, opp.BuyDex)
	assert.Equal(t, types.DexMeteora, opp.SellDex)
	assert.True(t, opp.ProfitPercent.IsZero(), "zero initial amount gives zero profit")
}

func TestTokenPath(t *testing.T) {
	path := TokenPath([]types.SwapEvent{
		swap(types.DexRaydium, tokenA, tokenB, 1, 1),
		swap(types.DexOrca, tokenB, tokenT, 1, 1),
		swap(types.DexMeteora, tokenT, tokenA, 1, 1),
	})
	assert.Equal(t, []string{tokenA, tokenB, tokenB, tokenT, tokenT, tokenA}, path)
}
