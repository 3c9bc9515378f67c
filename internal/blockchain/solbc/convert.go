// internal/blockchain/solbc/convert.go
package solbc

import (
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Convert resolves a decoded transaction and its meta into the parser's raw
// form. Account keys include addresses loaded from lookup tables, writable
// first, matching the order used by instruction and balance indexes.
func Convert(signature string, slot uint64, tx *solana.Transaction, meta *solanarpc.TransactionMeta) *types.RawTransaction {
	raw := &types.RawTransaction{
		Signature: signature,
		Slot:      slot,
	}
	if tx == nil {
		return raw
	}

	keys := make(solana.PublicKeySlice, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	raw.AccountKeys = make([]string, len(keys))
	for i, k := range keys {
		raw.AccountKeys[i] = k.String()
	}

	signers := int(tx.Message.Header.NumRequiredSignatures)
	if signers > len(raw.AccountKeys) {
		signers = len(raw.AccountKeys)
	}
	raw.Signers = append([]string(nil), raw.AccountKeys[:signers]...)

	inner := map[int][]solanarpc.CompiledInstruction{}
	if meta != nil {
		for _, set := range meta.InnerInstructions {
			inner[int(set.Index)] = append(inner[int(set.Index)], set.Instructions...)
		}
	}

	for i, ci := range tx.Message.Instructions {
		raw.Instructions = append(raw.Instructions, types.RawInstruction{
			ProgramID:   keyAt(raw.AccountKeys, int(ci.ProgramIDIndex)),
			Accounts:    resolve(raw.AccountKeys, ci.Accounts),
			StackHeight: 1,
		})
		for _, ii := range inner[i] {
			raw.Instructions = append(raw.Instructions, types.RawInstruction{
				ProgramID:   keyAt(raw.AccountKeys, int(ii.ProgramIDIndex)),
				Accounts:    resolve(raw.AccountKeys, ii.Accounts),
				StackHeight: 2,
			})
		}
	}

	if meta != nil {
		raw.Failed = meta.Err != nil
		raw.PreTokenBalances = tokenBalances(raw.AccountKeys, meta.PreTokenBalances)
		raw.PostTokenBalances = tokenBalances(raw.AccountKeys, meta.PostTokenBalances)
	}
	return raw
}

func keyAt(keys []string, idx int) string {
	if idx < 0 || idx >= len(keys) {
		return ""
	}
	return keys[idx]
}

func resolve[T ~uint8 | ~uint16 | ~int | ~int64](keys []string, idxs []T) []string {
	out := make([]string, 0, len(idxs))
	for _, idx := range idxs {
		if k := keyAt(keys, int(idx)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func tokenBalances(keys []string, in []solanarpc.TokenBalance) []types.RawTokenBalance {
	out := make([]types.RawTokenBalance, 0, len(in))
	for _, b := range in {
		entry := types.RawTokenBalance{
			AccountIndex: int(b.AccountIndex),
			Account:      keyAt(keys, int(b.AccountIndex)),
			Mint:         b.Mint.String(),
			Amount:       uiAmount(b.UiTokenAmount),
		}
		if b.Owner != nil {
			entry.Owner = b.Owner.String()
		}
		out = append(out, entry)
	}
	return out
}

// uiAmount prefers the exact UI string, falling back to the raw amount
// shifted by decimals.
func uiAmount(a *solanarpc.UiTokenAmount) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	if a.UiAmountString != "" {
		if d, err := decimal.NewFromString(a.UiAmountString); err == nil {
			return d
		}
	}
	if d, err := decimal.NewFromString(a.Amount); err == nil {
		return d.Shift(-int32(a.Decimals))
	}
	return decimal.Zero
}
