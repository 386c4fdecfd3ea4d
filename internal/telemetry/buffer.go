package telemetry

import "sync"

// CircularBuffer is a fixed-capacity FIFO buffer that evicts its oldest item.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer holding at most capacity items.
// A non-positive capacity means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest one when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items, oldest first. Never nil.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.itemsLocked()
}

// Drain returns the buffered items, oldest first, and empties the buffer.
func (b *CircularBuffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.itemsLocked()
	b.clearLocked()
	return out
}

func (b *CircularBuffer[T]) itemsLocked() []T {
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear empties the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
}

func (b *CircularBuffer[T]) clearLocked() {
	clear(b.items)
	b.head = 0
	b.size = 0
}
