package monitor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

func sandwichDetection(victim string) types.Detection {
	return types.Detection{
		Kind:     types.DetectionSandwich,
		Sandwich: &types.SandwichAttack{VictimTx: victim, FrontrunTx: victim + "-f", BackrunTx: victim + "-b"},
	}
}

func arbitrageDetection(sig string) types.Detection {
	return types.Detection{
		Kind:      types.DetectionArbitrage,
		Arbitrage: &types.ArbitrageOpportunity{Signature: sig},
	}
}

func TestDetectionLogOneDetectionPerTransaction(t *testing.T) {
	l := NewDetectionLog()

	assert.True(t, l.Add(sandwichDetection("tx1")))
	assert.False(t, l.Add(arbitrageDetection("tx1")), "tx1 already carries a sandwich")
	assert.True(t, l.Add(arbitrageDetection("tx2")))
	assert.False(t, l.Add(types.Detection{Kind: types.DetectionArbitrage}))

	s, a := l.Counts()
	assert.Equal(t, 1, s)
	assert.Equal(t, 1, a)
	assert.True(t, l.Has("tx1"))
}

func TestDetectionLogRejectsMismatchedKind(t *testing.T) {
	l := NewDetectionLog()

	mislabeled := arbitrageDetection("tx1")
	mislabeled.Kind = types.DetectionSandwich
	both := sandwichDetection("tx2")
	both.Arbitrage = &types.ArbitrageOpportunity{Signature: "tx2"}

	assert.NotPanics(t, func() {
		assert.False(t, l.Add(mislabeled))
		assert.False(t, l.Add(both))
	})

	s, a := l.Counts()
	assert.Zero(t, s)
	assert.Zero(t, a)
	assert.False(t, l.Has("tx1"))
	assert.True(t, l.Add(arbitrageDetection("tx1")), "a rejected detection does not claim its signature")
}

func TestDetectionLogForget(t *testing.T) {
	l := NewDetectionLog()
	l.Add(sandwichDetection("tx1"))
	l.Add(arbitrageDetection("tx2"))
	l.Add(arbitrageDetection("tx3"))

	l.Forget("tx2")
	l.Forget("unknown")

	s, a := l.Counts()
	assert.Equal(t, 1, s)
	assert.Equal(t, 1, a)
	assert.Equal(t, "tx3", l.RecentArbitrages(10)[0].Signature)

	ts, ta := l.Totals()
	assert.Equal(t, uint64(1), ts)
	assert.Equal(t, uint64(2), ta, "totals are cumulative")
}

func TestDetectionLogRecentViewsAreBounded(t *testing.T) {
	l := NewDetectionLog()
	for i := 0; i < 80; i++ {
		l.Add(arbitrageDetection(fmt.Sprintf("tx%d", i)))
	}

	assert.Len(t, l.RecentArbitrages(0), DefaultRecentLimit)
	assert.Len(t, l.RecentArbitrages(1000), MaxRecentLimit)

	recent := l.RecentArbitrages(3)
	assert.Equal(t, []string{"tx77", "tx78", "tx79"}, []string{recent[0].Signature, recent[1].Signature, recent[2].Signature})
	assert.Empty(t, l.RecentSandwiches(10))
}

func TestBundleRing(t *testing.T) {
	r := NewBundleRing(3)

	for i := 0; i < 5; i++ {
		assert.True(t, r.Add(types.Bundle{BundleID: fmt.Sprintf("b%d", i), Slot: uint64(i)}))
	}
	assert.False(t, r.Add(types.Bundle{BundleID: "b4"}), "duplicate bundle id")

	assert.Equal(t, 5, r.Seen())
	assert.Equal(t, 3, r.Len())

	recent := r.Recent(0)
	assert.Equal(t, "b2", recent[0].BundleID)
	assert.Equal(t, "b4", recent[2].BundleID)

	// b1 fell out of the ring, so it can be recorded again.
	assert.True(t, r.Add(types.Bundle{BundleID: "b1"}))
	assert.Equal(t, 6, r.Seen())
}
