package events

import "sync"

// RingBuffer keeps the last size values added to it.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	size  int
	items []T
	index int
	full  bool
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{
		size:  size,
		items: make([]T, size),
	}
}

func (rb *RingBuffer[T]) Add(v T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.items[rb.index] = v
	rb.index = (rb.index + 1) % rb.size
	if rb.index == 0 {
		rb.full = true
	}
}

// Snapshot returns the buffered values, oldest first.
func (rb *RingBuffer[T]) Snapshot() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		return append([]T{}, rb.items[:rb.index]...)
	}

	out := make([]T, 0, rb.size)
	out = append(out, rb.items[rb.index:]...)
	out = append(out, rb.items[:rb.index]...)
	return out
}

// Last returns the most recently added value.
func (rb *RingBuffer[T]) Last() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if !rb.full && rb.index == 0 {
		return zero, false
	}
	i := rb.index - 1
	if i < 0 {
		i = rb.size - 1
	}
	return rb.items[i], true
}

func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return rb.size
	}
	return rb.index
}

func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.items = make([]T, rb.size)
	rb.index = 0
	rb.full = false
}
