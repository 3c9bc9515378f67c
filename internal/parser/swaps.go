// internal/parser/swaps.go
package parser

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// poolLeg is a non-signer owner that received exactly one mint and paid exactly one other.
type poolLeg struct {
	owner     string
	accounts  map[string]struct{}
	firstIdx  int
	inMint    string
	inAmount  decimal.Decimal
	outMint   string
	outAmount decimal.Decimal
	position  int
	dex       types.DexID
}

// extractSwaps correlates balance changes of pool accounts into swap events.
// Transactions without a pool leg (plain transfers) return an empty slice.
func (p *Parser) extractSwaps(raw *types.RawTransaction, deltas []accountDelta, signer string, interactions []types.DexID) []types.SwapEvent {
	legs := collectPoolLegs(deltas, signer)
	if len(legs) == 0 {
		return []types.SwapEvent{}
	}

	var fallback types.DexID
	if len(interactions) > 0 {
		fallback = interactions[0]
	}
	for _, leg := range legs {
		leg.position, leg.dex = p.locateLeg(raw.Instructions, leg)
		if leg.dex == "" {
			leg.dex = fallback
		}
	}

	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].position != legs[j].position {
			return legs[i].position < legs[j].position
		}
		return legs[i].firstIdx < legs[j].firstIdx
	})

	out := make([]types.SwapEvent, 0, len(legs))
	for _, leg := range legs {
		out = append(out, types.SwapEvent{
			Dex:       leg.dex,
			Pool:      leg.owner,
			TokenIn:   leg.inMint,
			TokenOut:  leg.outMint,
			AmountIn:  leg.inAmount,
			AmountOut: leg.outAmount,
		})
	}
	return out
}

func collectPoolLegs(deltas []accountDelta, signer string) []*poolLeg {
	type acc struct {
		accounts map[string]struct{}
		firstIdx int
		mints    []string
		byMint   map[string]decimal.Decimal
	}
	var owners []string
	byOwner := make(map[string]*acc)
	for _, d := range deltas {
		if d.owner == signer && signer != "" {
			continue
		}
		a, ok := byOwner[d.owner]
		if !ok {
			a = &acc{
				accounts: make(map[string]struct{}),
				firstIdx: d.index,
				byMint:   make(map[string]decimal.Decimal),
			}
			byOwner[d.owner] = a
			owners = append(owners, d.owner)
		}
		a.accounts[d.account] = struct{}{}
		if _, ok := a.byMint[d.mint]; !ok {
			a.mints = append(a.mints, d.mint)
		}
		a.byMint[d.mint] = a.byMint[d.mint].Add(d.delta)
	}

	var legs []*poolLeg
	for _, owner := range owners {
		a := byOwner[owner]
		leg := &poolLeg{owner: owner, accounts: a.accounts, firstIdx: a.firstIdx}
		var ins, outs int
		for _, mint := range a.mints {
			delta := a.byMint[mint]
			switch {
			case delta.IsPositive():
				ins++
				leg.inMint, leg.inAmount = mint, delta
			case delta.IsNegative():
				outs++
				leg.outMint, leg.outAmount = mint, delta.Neg()
			}
		}
		if ins == 1 && outs == 1 {
			legs = append(legs, leg)
		}
	}
	return legs
}

// locateLeg finds the instruction that moved the pool's tokens. A direct DEX
// program wins over an aggregator that routed into it.
func (p *Parser) locateLeg(instructions []types.RawInstruction, leg *poolLeg) (int, types.DexID) {
	aggIdx, aggDex := -1, types.DexID("")
	for i, ix := range instructions {
		prog, ok := p.registry.Lookup(ix.ProgramID)
		if !ok || !touches(ix, leg) {
			continue
		}
		if !prog.Aggregator {
			return i, prog.ID
		}
		if aggIdx < 0 {
			aggIdx, aggDex = i, prog.ID
		}
	}
	if aggIdx >= 0 {
		return aggIdx, aggDex
	}
	return math.MaxInt, ""
}

func touches(ix types.RawInstruction, leg *poolLeg) bool {
	for _, account := range ix.Accounts {
		if account == leg.owner {
			return true
		}
		if _, ok := leg.accounts[account]; ok {
			return true
		}
	}
	return false
}
