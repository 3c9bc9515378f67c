// internal/detector/sandwich.go
package detector

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/monitor"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// DefaultSandwichWindow is the largest timestamp distance between a victim and
// its frontrun or backrun.
const DefaultSandwichWindow = 500 * time.Millisecond

// SandwichDetector finds victims bracketed by an attacker inside one slot.
type SandwichDetector struct {
	window time.Duration
	logger *zap.Logger
}

// NewSandwichDetector creates a detector. A non-positive window uses DefaultSandwichWindow.
func NewSandwichDetector(window time.Duration, logger *zap.Logger) *SandwichDetector {
	if window <= 0 {
		window = DefaultSandwichWindow
	}
	return &SandwichDetector{
		window: window,
		logger: logger.Named("sandwich"),
	}
}

// DetectSandwich runs the default detector over history.
func DetectSandwich(current types.TransactionAnalysis, history monitor.View) *types.SandwichAttack {
	return NewSandwichDetector(DefaultSandwichWindow, zap.NewNop()).Detect(current, history)
}

// Detect treats current as the victim. It needs one transaction before and one
// after current in the same slot and window, both sharing a DEX with current:
// the frontrun swaps in the victim's direction, the backrun swaps it back.
// The nearest qualifying pair wins.
func (d *SandwichDetector) Detect(current types.TransactionAnalysis, history monitor.View) *types.SandwichAttack {
	if len(current.SwapEvents) == 0 || len(current.DexInteractions) == 0 {
		return nil
	}

	var before, after []types.TransactionAnalysis
	for _, other := range history.InSlotWindow(current.Slot, current.Timestamp, d.window) {
		if other.Signature == current.Signature || !sharesDex(current, other) {
			continue
		}
		if other.Before(current) {
			before = append(before, other)
		} else {
			after = append(after, other)
		}
	}
	if len(before) == 0 || len(after) == 0 {
		return nil
	}

	// nearest first on both sides
	sort.Slice(before, func(i, j int) bool { return before[j].Before(before[i]) })
	sort.Slice(after, func(i, j int) bool { return after[i].Before(after[j]) })

	for _, victimSwap := range current.SwapEvents {
		for _, front := range before {
			if sameSigner(front.Signer, current.Signer) {
				continue
			}
			frontSwap, ok := findSwap(front, victimSwap.TokenIn, victimSwap.TokenOut)
			if !ok {
				continue
			}
			for _, back := range after {
				if back.Signature == front.Signature || sameSigner(back.Signer, current.Signer) {
					continue
				}
				if front.Signer != "" && back.Signer != "" && front.Signer != back.Signer {
					continue
				}
				backSwap, ok := findSwap(back, victimSwap.TokenOut, victimSwap.TokenIn)
				if !ok {
					continue
				}

				attack := d.build(current, front, back, victimSwap, frontSwap, backSwap)
				d.logger.Debug("Sandwich detected",
					zap.String("victim", attack.VictimTx),
					zap.String("frontrun", attack.FrontrunTx),
					zap.String("backrun", attack.BackrunTx),
					zap.Uint64("slot", attack.Slot))
				return attack
			}
		}
	}
	return nil
}

func (d *SandwichDetector) build(victim, front, back types.TransactionAnalysis, victimSwap, frontSwap, backSwap types.SwapEvent) *types.SandwichAttack {
	token := victimSwap.TokenOut
	attack := &types.SandwichAttack{
		VictimTx:     victim.Signature,
		FrontrunTx:   front.Signature,
		BackrunTx:    back.Signature,
		TokenAddress: token,
		Profit:       victimShortfall(victim, victimSwap, frontSwap),
		Timestamp:    victim.Timestamp,
		Slot:         victim.Slot,
		Attacker:     front.Signer,
		Dex:          victimSwap.Dex,
	}
	if attack.Dex == "" {
		attack.Dex = firstSharedDex(victim, front)
	}
	if backSwap.TokenOut == frontSwap.TokenIn {
		attack.AttackerProfit = backSwap.AmountOut.Sub(frontSwap.AmountIn)
		attack.ProfitToken = frontSwap.TokenIn
	}
	return attack
}

// victimShortfall compares what the victim received in the sandwiched token
// with what its input would have bought at the frontrun's rate. The result is
// negative when the victim got less.
func victimShortfall(victim types.TransactionAnalysis, victimSwap, frontSwap types.SwapEvent) decimal.Decimal {
	received := victim.DeltaOf(victim.Signer, victimSwap.TokenOut)
	if received.IsZero() {
		received = victimSwap.AmountOut
	}
	if !frontSwap.AmountIn.IsPositive() {
		return decimal.Zero
	}
	expected := victimSwap.AmountIn.Mul(frontSwap.AmountOut).Div(frontSwap.AmountIn)
	return received.Sub(expected)
}

func findSwap(a types.TransactionAnalysis, tokenIn, tokenOut string) (types.SwapEvent, bool) {
	for _, s := range a.SwapEvents {
		if s.TokenIn == tokenIn && s.TokenOut == tokenOut {
			return s, true
		}
	}
	return types.SwapEvent{}, false
}

func sharesDex(a, b types.TransactionAnalysis) bool {
	return firstSharedDex(a, b) != ""
}

func firstSharedDex(a, b types.TransactionAnalysis) types.DexID {
	for _, id := range a.DexInteractions {
		if b.HasDex(id) {
			return id
		}
	}
	return ""
}

func sameSigner(a, b string) bool {
	return a != "" && a == b
}
