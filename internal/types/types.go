// internal/types/types.go
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DexID identifies a DEX program known to the parser.
type DexID string

const (
	DexJupiter DexID = "jupiter"
	DexRaydium DexID = "raydium"
	DexOrca    DexID = "orca"
	DexPhoenix DexID = "phoenix"
	DexMeteora DexID = "meteora"
)

// FeedKind identifies the upstream feed a transaction came from.
type FeedKind string

const (
	FeedBundle FeedKind = "bundle"
	FeedLogs   FeedKind = "logs"
	FeedPoll   FeedKind = "poll"
)

// TokenTransfer is a movement of one token between two owners inside a transaction.
type TokenTransfer struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token"`
}

// SwapEvent is one pool leg of a swap. TokenIn is what the pool received.
type SwapEvent struct {
	Dex       DexID           `json:"dex"`
	Pool      string          `json:"pool,omitempty"`
	TokenIn   string          `json:"tokenIn"`
	TokenOut  string          `json:"tokenOut"`
	AmountIn  decimal.Decimal `json:"amountIn"`
	AmountOut decimal.Decimal `json:"amountOut"`
}

// BalanceDelta is post - pre of one owner's balance in one mint.
type BalanceDelta struct {
	Owner string          `json:"owner"`
	Token string          `json:"token"`
	Delta decimal.Decimal `json:"delta"`
}

// TransactionAnalysis is the parsed view of a single observed transaction.
// It is built once and never modified afterwards.
type TransactionAnalysis struct {
	Signature       string          `json:"signature"`
	Timestamp       time.Time       `json:"timestamp"`
	Slot            uint64          `json:"slot"`
	DexInteractions []DexID         `json:"dexInteractions"`
	TokenTransfers  []TokenTransfer `json:"tokenTransfers"`
	SwapEvents      []SwapEvent     `json:"swapEvents"`

	Seq           uint64         `json:"seq"`
	Signer        string         `json:"signer,omitempty"`
	BalanceDeltas []BalanceDelta `json:"balanceDeltas,omitempty"`
	BundleID      string         `json:"bundleId,omitempty"`
	Source        FeedKind       `json:"source,omitempty"`
}

// Before reports whether a was observed before b. Ties on timestamp are
// broken by arrival sequence, then by signature.
func (a TransactionAnalysis) Before(b TransactionAnalysis) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.Signature < b.Signature
}

// HasDex reports whether the transaction touched the given DEX.
func (a TransactionAnalysis) HasDex(id DexID) bool {
	for _, d := range a.DexInteractions {
		if d == id {
			return true
		}
	}
	return false
}

// DeltaOf returns the balance delta of owner in token, zero when absent.
func (a TransactionAnalysis) DeltaOf(owner, token string) decimal.Decimal {
	total := decimal.Zero
	for _, d := range a.BalanceDeltas {
		if d.Owner == owner && d.Token == token {
			total = total.Add(d.Delta)
		}
	}
	return total
}

// SandwichAttack is a victim transaction bracketed by a frontrun and a backrun in the same slot.
type SandwichAttack struct {
	VictimTx     string          `json:"victimTx"`
	FrontrunTx   string          `json:"frontrunTx"`
	BackrunTx    string          `json:"backrunTx"`
	TokenAddress string `json:"tokenAddress"`
	// Profit is the victim's result in TokenAddress against the frontrun's
	// rate. Negative means the victim lost.
	Profit    decimal.Decimal `json:"profit"`
	Timestamp time.Time       `json:"timestamp"`
	Slot      uint64          `json:"slot"`

	Attacker       string          `json:"attacker,omitempty"`
	Dex            DexID           `json:"dex,omitempty"`
	AttackerProfit decimal.Decimal `json:"attackerProfit"`
	ProfitToken    string          `json:"profitToken,omitempty"`
}

// ArbitrageOpportunity is a transaction that cycles a token across venues back to itself.
type ArbitrageOpportunity struct {
	Signature     string          `json:"signature"`
	BuyDex        DexID           `json:"buyDex"`
	SellDex       DexID           `json:"sellDex"`
	TokenIn       string          `json:"tokenIn"`
	TokenOut      string          `json:"tokenOut"`
	ProfitPercent decimal.Decimal `json:"profitPercent"`
	Timestamp     time.Time       `json:"timestamp"`
	Slot          uint64          `json:"slot"`

	Signer string `json:"signer,omitempty"`
	Hops   int    `json:"hops"`
}

// Bundle is a set of transactions that landed together in one slot.
type Bundle struct {
	BundleID     string    `json:"bundleId"`
	Transactions []string  `json:"transactions"`
	Timestamp    time.Time `json:"timestamp"`
	Landed       bool      `json:"landed"`
	Slot         uint64    `json:"slot"`
}

// DetectionKind tags a Detection.
type DetectionKind string

const (
	DetectionSandwich  DetectionKind = "sandwich"
	DetectionArbitrage DetectionKind = "arbitrage"
)

// Detection carries exactly one of Sandwich or Arbitrage.
type Detection struct {
	Kind      DetectionKind         `json:"kind"`
	Sandwich  *SandwichAttack       `json:"sandwich,omitempty"`
	Arbitrage *ArbitrageOpportunity `json:"arbitrage,omitempty"`
}

// Valid reports whether d carries exactly one payload and Kind names it.
func (d Detection) Valid() bool {
	switch {
	case d.Sandwich != nil && d.Arbitrage == nil:
		return d.Kind == DetectionSandwich
	case d.Arbitrage != nil && d.Sandwich == nil:
		return d.Kind == DetectionArbitrage
	}
	return false
}

// Key returns the signature the detection is attached to.
func (d Detection) Key() string {
	switch {
	case d.Sandwich != nil:
		return d.Sandwich.VictimTx
	case d.Arbitrage != nil:
		return d.Arbitrage.Signature
	}
	return ""
}

// Slot returns the slot of the underlying detection.
func (d Detection) Slot() uint64 {
	switch {
	case d.Sandwich != nil:
		return d.Sandwich.Slot
	case d.Arbitrage != nil:
		return d.Arbitrage.Slot
	}
	return 0
}

// Time returns the timestamp of the underlying detection.
func (d Detection) Time() time.Time {
	switch {
	case d.Sandwich != nil:
		return d.Sandwich.Timestamp
	case d.Arbitrage != nil:
		return d.Arbitrage.Timestamp
	}
	return time.Time{}
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	SandwichAttacks int `json:"sandwichAttacks"`
	ArbitrageOps    int `json:"arbitrageOps"`
	TotalAnalyzed   int `json:"totalAnalyzed"`
	BundlesSeen     int `json:"bundlesSeen"`
}
