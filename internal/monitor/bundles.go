package monitor

import (
	"sync"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// DefaultBundleCapacity is the size of the bundle ring when none is configured.
const DefaultBundleCapacity = 100

// BundleRing keeps the most recent bundles and counts every bundle seen.
type BundleRing struct {
	mu    sync.RWMutex
	items []types.Bundle
	next  int
	full  bool
	ids   map[string]struct{}
	seen  int
}

// NewBundleRing creates a ring holding at most capacity bundles.
func NewBundleRing(capacity int) *BundleRing {
	if capacity <= 0 {
		capacity = DefaultBundleCapacity
	}
	return &BundleRing{
		items: make([]types.Bundle, capacity),
		ids:   make(map[string]struct{}, capacity),
	}
}

// Add records b. A bundle id already held in the ring is not counted twice.
func (r *BundleRing) Add(b types.Bundle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.BundleID != "" {
		if _, dup := r.ids[b.BundleID]; dup {
			return false
		}
	}

	if r.full {
		delete(r.ids, r.items[r.next].BundleID)
	}
	r.items[r.next] = b
	if b.BundleID != "" {
		r.ids[b.BundleID] = struct{}{}
	}
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	r.seen++
	return true
}

// Seen returns the number of bundles recorded this session.
func (r *BundleRing) Seen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen
}

// Len returns the number of bundles currently held.
func (r *BundleRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.items)
	}
	return r.next
}

// Recent returns up to limit latest bundles, oldest first.
func (r *BundleRing) Recent(limit int) []types.Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	start := 0
	if r.full {
		size = len(r.items)
		start = r.next
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]types.Bundle, 0, limit)
	for i := size - limit; i < size; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}
