package webui

import "sync"

// CircularBuffer is a fixed-size FIFO that overwrites its oldest entry when
// full. The broadcaster keeps the latest board messages in one so that a
// client connecting mid-session can rebuild the board.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	size     int
	head     int // next write
}

// NewCircularBuffer creates a buffer. Capacities below 1 are raised to 1.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &CircularBuffer[T]{data: make([]T, capacity), capacity: capacity}
}

// Push appends item, evicting the oldest entry when full.
func (b *CircularBuffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// All returns a copy of the contents, oldest first.
func (b *CircularBuffer[T]) All() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	start := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(start+i)%b.capacity]
	}
	return out
}

// Len returns the number of stored entries.
func (b *CircularBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear drops every entry.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.size, b.head = 0, 0
}
