package coordinator

import "sync"

// Ring is a mutex-guarded bounded buffer. When full, the oldest entries are
// evicted so collectors are never slowed by a stalled flush path.
type Ring[T any] struct {
	mu       sync.Mutex
	data     []T
	capacity int
	dropped  uint64
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		data:     make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends items, evicting the oldest entries past capacity.
// It returns the number of evicted items.
func (r *Ring[T]) Push(items ...T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = append(r.data, items...)
	if over := len(r.data) - r.capacity; over > 0 {
		r.data = append(r.data[:0], r.data[over:]...)
		r.dropped += uint64(over)
		return over
	}
	return 0
}

// PopBatch removes and returns up to n of the oldest items.
func (r *Ring[T]) PopBatch(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.data) == 0 || n <= 0 {
		return nil
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	batch := make([]T, n)
	copy(batch, r.data[:n])
	r.data = append(r.data[:0], r.data[n:]...)
	return batch
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Dropped returns the total number of items evicted since creation.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
