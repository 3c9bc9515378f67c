package monitor

import (
	"sync"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Bounds for recent-N views over detections.
const (
	DefaultRecentLimit = 25
	MaxRecentLimit     = 50
)

// ClampRecent maps a requested view size onto [1, MaxRecentLimit], with
// DefaultRecentLimit for non-positive requests.
func ClampRecent(n int) int {
	if n <= 0 {
		return DefaultRecentLimit
	}
	if n > MaxRecentLimit {
		return MaxRecentLimit
	}
	return n
}

// DetectionLog is the append-only record of detections for a session. Each
// transaction carries at most one detection. Detections whose transaction has
// left the History are pruned with Forget.
type DetectionLog struct {
	mu         sync.RWMutex
	sandwiches []types.SandwichAttack
	arbitrages []types.ArbitrageOpportunity
	keys       map[string]types.DetectionKind

	totalSandwiches uint64
	totalArbitrages uint64
}

// NewDetectionLog creates an empty log.
func NewDetectionLog() *DetectionLog {
	return &DetectionLog{
		keys: make(map[string]types.DetectionKind),
	}
}

// Add appends d. It returns false when d is malformed or its transaction
// already has a detection.
func (l *DetectionLog) Add(d types.Detection) bool {
	key := d.Key()
	if key == "" || !d.Valid() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.keys[key]; exists {
		return false
	}

	if d.Sandwich != nil {
		l.sandwiches = append(l.sandwiches, *d.Sandwich)
		l.totalSandwiches++
	} else {
		l.arbitrages = append(l.arbitrages, *d.Arbitrage)
		l.totalArbitrages++
	}
	l.keys[key] = d.Kind
	return true
}

// Has reports whether signature already carries a detection.
func (l *DetectionLog) Has(signature string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.keys[signature]
	return ok
}

// Forget drops the detection attached to signature, if any.
func (l *DetectionLog) Forget(signature string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kind, ok := l.keys[signature]
	if !ok {
		return
	}
	delete(l.keys, signature)

	switch kind {
	case types.DetectionSandwich:
		for i := range l.sandwiches {
			if l.sandwiches[i].VictimTx == signature {
				l.sandwiches = append(l.sandwiches[:i], l.sandwiches[i+1:]...)
				return
			}
		}
	case types.DetectionArbitrage:
		for i := range l.arbitrages {
			if l.arbitrages[i].Signature == signature {
				l.arbitrages = append(l.arbitrages[:i], l.arbitrages[i+1:]...)
				return
			}
		}
	}
}

// Counts returns the number of live sandwiches and arbitrages.
func (l *DetectionLog) Counts() (sandwiches, arbitrages int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sandwiches), len(l.arbitrages)
}

// Totals returns how many detections of each kind were added this session.
func (l *DetectionLog) Totals() (sandwiches, arbitrages uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSandwiches, l.totalArbitrages
}

// RecentSandwiches returns up to ClampRecent(n) latest sandwiches, oldest first.
func (l *DetectionLog) RecentSandwiches(n int) []types.SandwichAttack {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.sandwiches, ClampRecent(n))
}

// RecentArbitrages returns up to ClampRecent(n) latest arbitrages, oldest first.
func (l *DetectionLog) RecentArbitrages(n int) []types.ArbitrageOpportunity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.arbitrages, ClampRecent(n))
}

func tail[T any](items []T, n int) []T {
	if n > len(items) {
		n = len(items)
	}
	out := make([]T, n)
	copy(out, items[len(items)-n:])
	return out
}
