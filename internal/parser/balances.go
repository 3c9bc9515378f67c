// internal/parser/balances.go
package parser

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// accountDelta is the change of a single token account across the transaction.
type accountDelta struct {
	index   int
	account string
	owner   string
	mint    string
	delta   decimal.Decimal
}

// diffTokenBalances returns non-zero post - pre deltas ordered by account index.
func diffTokenBalances(pre, post []types.RawTokenBalance) []accountDelta {
	type entry struct {
		pre, post *types.RawTokenBalance
	}
	byIndex := make(map[int]*entry)
	for i := range pre {
		b := &pre[i]
		e, ok := byIndex[b.AccountIndex]
		if !ok {
			e = &entry{}
			byIndex[b.AccountIndex] = e
		}
		e.pre = b
	}
	for i := range post {
		b := &post[i]
		e, ok := byIndex[b.AccountIndex]
		if !ok {
			e = &entry{}
			byIndex[b.AccountIndex] = e
		}
		e.post = b
	}

	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]accountDelta, 0, len(indexes))
	for _, idx := range indexes {
		e := byIndex[idx]
		before, after := decimal.Zero, decimal.Zero
		ref := e.post
		if e.pre != nil {
			before = e.pre.Amount
			if ref == nil {
				ref = e.pre
			}
		}
		if e.post != nil {
			after = e.post.Amount
		}
		delta := after.Sub(before)
		if delta.IsZero() {
			continue
		}
		owner := ref.Owner
		if owner == "" {
			owner = ref.Account
		}
		out = append(out, accountDelta{
			index:   idx,
			account: ref.Account,
			owner:   owner,
			mint:    ref.Mint,
			delta:   delta,
		})
	}
	return out
}

// ownerDeltas aggregates account deltas per (owner, mint) in first-seen order.
func ownerDeltas(deltas []accountDelta) []types.BalanceDelta {
	type key struct{ owner, mint string }
	pos := make(map[key]int)
	var out []types.BalanceDelta
	for _, d := range deltas {
		k := key{d.owner, d.mint}
		if i, ok := pos[k]; ok {
			out[i].Delta = out[i].Delta.Add(d.delta)
			continue
		}
		pos[k] = len(out)
		out = append(out, types.BalanceDelta{Owner: d.owner, Token: d.mint, Delta: d.delta})
	}

	filtered := out[:0]
	for _, d := range out {
		if !d.Delta.IsZero() {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// pairTransfers matches senders and receivers of each mint greedily in account
// order. Amounts that cannot be matched (mints, burns) are dropped.
func pairTransfers(deltas []accountDelta) []types.TokenTransfer {
	type side struct {
		owner string
		rem   decimal.Decimal
	}
	var mints []string
	seen := make(map[string]bool)
	senders := make(map[string][]*side)
	receivers := make(map[string][]*side)
	for _, d := range deltas {
		if !seen[d.mint] {
			seen[d.mint] = true
			mints = append(mints, d.mint)
		}
		if d.delta.IsNegative() {
			senders[d.mint] = append(senders[d.mint], &side{owner: d.owner, rem: d.delta.Neg()})
		} else {
			receivers[d.mint] = append(receivers[d.mint], &side{owner: d.owner, rem: d.delta})
		}
	}

	out := []types.TokenTransfer{}
	for _, mint := range mints {
		from, to := senders[mint], receivers[mint]
		i, j := 0, 0
		for i < len(from) && j < len(to) {
			amount := decimal.Min(from[i].rem, to[j].rem)
			out = append(out, types.TokenTransfer{
				From:   from[i].owner,
				To:     to[j].owner,
				Amount: amount,
				Token:  mint,
			})
			from[i].rem = from[i].rem.Sub(amount)
			to[j].rem = to[j].rem.Sub(amount)
			if from[i].rem.IsZero() {
				i++
			}
			if to[j].rem.IsZero() {
				j++
			}
		}
	}
	return out
}
