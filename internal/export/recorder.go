package export

import (
	"sync"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Recorder keeps the most recent detections in memory for export at shutdown.
type Recorder struct {
	mu       sync.Mutex
	items    []types.Detection
	capacity int
}

// NewRecorder creates a recorder holding at most capacity detections.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Recorder{capacity: capacity}
}

// Add records d, dropping the oldest detection when full. It matches the
// dispatcher's detection callback signature.
func (r *Recorder) Add(d types.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == r.capacity {
		copy(r.items, r.items[1:])
		r.items = r.items[:len(r.items)-1]
	}
	r.items = append(r.items, d)
	return nil
}

// Detections returns a copy of the recorded detections, oldest first.
func (r *Recorder) Detections() []types.Detection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Detection(nil), r.items...)
}

// Len returns the number of recorded detections.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
