package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// DefaultHistoryCapacity is the number of analyses kept when no capacity is configured.
const DefaultHistoryCapacity = 1000

// View is the read-only side of History used by the detectors.
type View interface {
	// Get returns the analysis stored for signature.
	Get(signature string) (types.TransactionAnalysis, bool)
	// InSlotWindow returns analyses in slot whose timestamp is within window of at,
	// in insertion order.
	InSlotWindow(slot uint64, at time.Time, window time.Duration) []types.TransactionAnalysis
}

// History is a bounded, insertion-ordered store of transaction analyses keyed
// by signature. On overflow the oldest entry is evicted.
type History struct {
	mu       sync.RWMutex
	ring     []types.TransactionAnalysis
	head     int // index of the oldest entry
	size     int
	index    map[string]int
	capacity int
	logger   *zap.Logger

	evicted uint64
}

// NewHistory creates a history holding at most capacity analyses.
func NewHistory(capacity int, logger *zap.Logger) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		ring:     make([]types.TransactionAnalysis, capacity),
		index:    make(map[string]int, capacity),
		capacity: capacity,
		logger:   logger.Named("history"),
	}
}

// Insert stores a. It returns the evicted analysis when the store was full,
// and inserted=false when the signature is already present.
func (h *History) Insert(a types.TransactionAnalysis) (evicted *types.TransactionAnalysis, inserted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.index[a.Signature]; exists {
		return nil, false
	}

	if h.size == h.capacity {
		old := h.ring[h.head]
		delete(h.index, old.Signature)
		h.ring[h.head] = types.TransactionAnalysis{}
		h.head = (h.head + 1) % h.capacity
		h.size--
		h.evicted++
		evicted = &old

		h.logger.Debug("Evicted oldest analysis",
			zap.String("signature", old.Signature),
			zap.Uint64("slot", old.Slot))
	}

	pos := (h.head + h.size) % h.capacity
	h.ring[pos] = a
	h.index[a.Signature] = pos
	h.size++

	return evicted, true
}

// Get returns the analysis stored for signature.
func (h *History) Get(signature string) (types.TransactionAnalysis, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pos, ok := h.index[signature]
	if !ok {
		return types.TransactionAnalysis{}, false
	}
	return h.ring[pos], true
}

// Contains reports whether signature is still stored.
func (h *History) Contains(signature string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.index[signature]
	return ok
}

// Len returns the number of stored analyses.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity returns the configured capacity.
func (h *History) Capacity() int {
	return h.capacity
}

// Evicted returns how many analyses have been evicted since creation.
func (h *History) Evicted() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.evicted
}

// Recent returns up to limit most recent analyses, oldest first.
// A non-positive limit returns everything.
func (h *History) Recent(limit int) []types.TransactionAnalysis {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > h.size {
		limit = h.size
	}

	result := make([]types.TransactionAnalysis, 0, limit)
	for i := h.size - limit; i < h.size; i++ {
		result = append(result, h.ring[(h.head+i)%h.capacity])
	}
	return result
}

// InSlotWindow implements View.
func (h *History) InSlotWindow(slot uint64, at time.Time, window time.Duration) []types.TransactionAnalysis {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []types.TransactionAnalysis
	for i := 0; i < h.size; i++ {
		a := h.ring[(h.head+i)%h.capacity]
		if a.Slot != slot {
			continue
		}
		if absDuration(a.Timestamp.Sub(at)) >= window {
			continue
		}
		result = append(result, a)
	}
	return result
}

// ReadOnly returns a View that cannot be type-asserted back to *History.
func (h *History) ReadOnly() View {
	return readOnlyView{h: h}
}

type readOnlyView struct {
	h *History
}

func (v readOnlyView) Get(signature string) (types.TransactionAnalysis, bool) {
	return v.h.Get(signature)
}

func (v readOnlyView) InSlotWindow(slot uint64, at time.Time, window time.Duration) []types.TransactionAnalysis {
	return v.h.InSlotWindow(slot, at, window)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
