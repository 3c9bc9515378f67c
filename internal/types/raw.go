// internal/types/raw.go
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawInstruction is a compiled instruction resolved to account addresses.
type RawInstruction struct {
	ProgramID string
	Accounts  []string
	// StackHeight is 1 for top-level instructions and greater for CPI calls.
	StackHeight int
}

// RawTokenBalance is one entry of a pre or post token balance snapshot.
type RawTokenBalance struct {
	AccountIndex int
	Account      string
	Owner        string
	Mint         string
	Amount       decimal.Decimal
}

// RawTransaction is the fetched transaction data the parser works on.
type RawTransaction struct {
	Signature         string
	Slot              uint64
	BlockTime         time.Time
	AccountKeys       []string
	Signers           []string
	Instructions      []RawInstruction
	PreTokenBalances  []RawTokenBalance
	PostTokenBalances []RawTokenBalance
	Failed            bool
}

// FeePayer returns the first signer, empty when unknown.
func (r *RawTransaction) FeePayer() string {
	if r == nil || len(r.Signers) == 0 {
		return ""
	}
	return r.Signers[0]
}

// SignatureInfo is one entry returned by a signature listing for a program.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Failed    bool
}
